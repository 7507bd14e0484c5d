package common

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/sitekit/internal/permissions"
)

func TestCaller(t *testing.T) {
	assert.Equal(t, "fallback", Caller(context.Background(), "fallback"))
	assert.Equal(t, "alice", Caller(WithCaller(context.Background(), "alice"), "fallback"))
	assert.Equal(t, "fallback", Caller(WithCaller(context.Background(), ""), "fallback"))
}

func TestInstrumented(t *testing.T) {
	tests := []struct {
		name       string
		owner      string
		action     permissions.Action
		wantCalled bool
		wantError  string
	}{
		{name: "admin manages options", owner: "admin", action: permissions.ActionManageOptions, wantCalled: true},
		{name: "viewer views dashboard", owner: "viewer", action: permissions.ActionViewDashboard, wantCalled: true},
		{name: "viewer may not manage options", owner: "viewer", action: permissions.ActionManageOptions, wantError: "forbidden: caller may not manage_options"},
		{name: "no caller", owner: "", action: permissions.ActionViewDashboard, wantError: "no caller identity: configure a default owner for this transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &Services{
				Permissions:  permissions.NewStatic([]string{"admin"}),
				DefaultOwner: tt.owner,
			}

			var gotCaller string
			h := svc.Instrumented("test_tool", tt.action, func(_ context.Context, caller string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				gotCaller = caller
				return mcp.NewToolResultText("done"), nil
			})

			result, err := h(context.Background(), mcp.CallToolRequest{})
			require.NoError(t, err)
			if tt.wantError != "" {
				assert.True(t, result.IsError)
				assert.Equal(t, tt.wantError, resultText(result))
				assert.Empty(t, gotCaller)
				return
			}
			assert.False(t, result.IsError)
			assert.Equal(t, tt.owner, gotCaller)
		})
	}
}

func TestJSONResult(t *testing.T) {
	result, err := JSONResult(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", resultText(result))

	_, err = JSONResult(make(chan int))
	assert.Error(t, err)
}

func TestArgs(t *testing.T) {
	args := map[string]any{"s": "x", "b": true, "n": 1}
	assert.Equal(t, "x", StringArg(args, "s"))
	assert.Equal(t, "", StringArg(args, "n"))
	assert.True(t, BoolArg(args, "b", false))
	assert.True(t, BoolArg(args, "missing", true))
	assert.False(t, BoolArg(args, "s", false))
}
