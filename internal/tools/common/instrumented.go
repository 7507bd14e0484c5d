package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/logging"
	"github.com/teemow/sitekit/internal/permissions"
)

// Handler implements one tool for an already authorized caller.
type Handler func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Instrumented turns h into an MCP tool handler. The wrapper resolves the
// caller, rejects callers lacking action, and records a span, a metric
// and a log line per invocation.
//
// Usage:
//
//	s.AddTool(myTool, svc.Instrumented("my_tool", permissions.ActionViewDashboard, handler))
func (s *Services) Instrumented(tool string, action permissions.Action, h Handler) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		ctx, span := instrumentation.StartToolSpan(ctx, tool)
		start := time.Now()
		logger := logging.WithTool(s.logger(), tool)

		defer func() {
			status := instrumentation.StatusSuccess
			spanErr := err
			if err != nil || (result != nil && result.IsError) {
				status = instrumentation.StatusError
				if spanErr == nil {
					spanErr = errors.New(resultText(result))
				}
			}
			instrumentation.EndSpan(span, spanErr)
			s.Metrics.RecordToolInvocation(ctx, tool, status)
			logger.DebugContext(ctx, "tool invoked",
				logging.Status(status),
				slog.Duration("duration", time.Since(start)))
		}()

		caller := Caller(ctx, s.DefaultOwner)
		if caller == "" {
			return mcp.NewToolResultError("no caller identity: configure a default owner for this transport"), nil
		}
		logger = logger.With(logging.OwnerHash(caller))

		if s.Permissions != nil && !s.Permissions.Can(ctx, caller, action) {
			return mcp.NewToolResultError(fmt.Sprintf("forbidden: caller may not %s", action)), nil
		}
		return h(logging.NewContext(ctx, logger), caller, request)
	}
}

func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return "tool returned an error"
}
