package auth_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/sitekit/internal/permissions"
	"github.com/teemow/sitekit/internal/tools/common"
)

// RegisterAuthTools registers all authentication tools with the MCP server.
func RegisterAuthTools(s *mcpserver.MCPServer, svc *common.Services, readOnly bool) error {
	if svc == nil || svc.Auth == nil {
		return fmt.Errorf("auth service is required")
	}
	s.AddTools(tools(svc, readOnly)...)
	return nil
}

func tools(svc *common.Services, readOnly bool) []mcpserver.ServerTool {
	out := []mcpserver.ServerTool{
		authStateTool(svc),
		authURLTool(svc),
	}
	if !readOnly {
		out = append(out, disconnectTool(svc))
	}
	return out
}

func authStateTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("auth_state",
		mcp.WithDescription("Show whether the caller is connected to Google, which scopes were granted and which are still missing for the active modules"),
	)

	handler := func(ctx context.Context, caller string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return common.JSONResult(svc.Auth.AuthState(ctx, caller))
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("auth_state", permissions.ActionAuthenticate, handler)}
}

func authURLTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("auth_url",
		mcp.WithDescription(`Build the Google consent URL. The user must open it in a browser and approve access.

With module set, the URL requests exactly the scopes that module is missing. Otherwise it requests the base scopes, the scopes of every active module and any extra scopes given.`),
		mcp.WithString("module",
			mcp.Description("Request the scopes missing for this module slug"),
		),
		mcp.WithString("scopes",
			mcp.Description("Comma-separated extra scopes to request"),
		),
		mcp.WithString("redirect",
			mcp.Description("Where the user lands after the callback"),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		redirect := common.StringArg(args, "redirect")

		var (
			url string
			err error
		)
		if slug := common.StringArg(args, "module"); slug != "" {
			url, err = svc.Auth.ReauthURL(ctx, caller, slug, redirect)
		} else {
			url, err = svc.Auth.AuthenticationURL(ctx, caller, redirect, splitScopes(common.StringArg(args, "scopes")))
		}
		if err != nil {
			return common.ErrorResult("build authentication URL", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Open this URL in your browser to grant access:\n\n%s", url)), nil
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("auth_url", permissions.ActionAuthenticate, handler)}
}

func disconnectTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("auth_disconnect",
		mcp.WithDescription("Disconnect the caller from Google. The stored credential is deleted and the grant is revoked at Google."),
	)

	handler := func(ctx context.Context, caller string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := svc.Auth.Revoke(ctx, caller); err != nil {
			return common.ErrorResult("disconnect", err), nil
		}
		return mcp.NewToolResultText("Disconnected from Google."), nil
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("auth_disconnect", permissions.ActionAuthenticate, handler)}
}

func splitScopes(s string) []string {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}
