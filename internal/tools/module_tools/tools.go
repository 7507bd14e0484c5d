package module_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/sitekit/internal/modules"
	"github.com/teemow/sitekit/internal/permissions"
	"github.com/teemow/sitekit/internal/tools/batch"
	"github.com/teemow/sitekit/internal/tools/common"
)

// RegisterModuleTools registers all module tools with the MCP server.
func RegisterModuleTools(s *mcpserver.MCPServer, svc *common.Services, readOnly bool) error {
	if svc == nil || svc.Modules == nil {
		return fmt.Errorf("module service is required")
	}
	s.AddTools(tools(svc, readOnly)...)
	return nil
}

func tools(svc *common.Services, readOnly bool) []mcpserver.ServerTool {
	out := []mcpserver.ServerTool{
		listModulesTool(svc),
		getModuleTool(svc),
		getSettingsTool(svc),
		getDataTool(svc),
	}
	if !readOnly {
		out = append(out,
			activateModulesTool(svc),
			deactivateModuleTool(svc),
			updateSettingsTool(svc),
		)
	}
	return out
}

func listModulesTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("modules_list",
		mcp.WithDescription("List the registered modules in display order, with activation and connection state"),
		mcp.WithBoolean("activeOnly",
			mcp.Description("Only list active modules (default: false)"),
		),
		mcp.WithBoolean("excludeInternal",
			mcp.Description("Hide internal modules (default: false)"),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		filter := modules.Filter{
			ActiveOnly:      common.BoolArg(args, "activeOnly", false),
			ExcludeInternal: common.BoolArg(args, "excludeInternal", false),
			Owner:           caller,
		}

		views := []modules.View{}
		for v, err := range svc.Modules.List(ctx, filter) {
			if err != nil {
				return common.ErrorResult("list modules", err), nil
			}
			views = append(views, v)
		}
		return common.JSONResult(views)
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("modules_list", permissions.ActionViewDashboard, handler)}
}

func getModuleTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("modules_get",
		mcp.WithDescription("Get one module, including its dependencies, dependants and missing scopes"),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("The module slug, e.g. 'analytics'"),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slug := common.StringArg(request.GetArguments(), "slug")
		if slug == "" {
			return mcp.NewToolResultError("slug is required"), nil
		}

		view, err := svc.Modules.Get(ctx, slug, caller)
		if err != nil {
			return common.ErrorResult("get module", err), nil
		}
		return common.JSONResult(view)
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("modules_get", permissions.ActionViewDashboard, handler)}
}

func activateModulesTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("modules_activate",
		mcp.WithDescription("Activate one or more modules. Dependencies must be active and the site owner must have granted the module scopes. Modules are activated in the given order, so list dependencies first."),
		mcp.WithString("slugs",
			mcp.Required(),
			mcp.Description("Module slug or comma-separated slugs to activate, in order. An array of strings is accepted as well."),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slugs, err := batch.ParseStringOrArray(request.GetArguments()["slugs"], "slugs")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		summary := batch.Process(ctx, slugs, func(ctx context.Context, slug string) (any, error) {
			view, err := svc.Modules.Activate(ctx, slug, caller)
			if err != nil {
				return nil, err
			}
			return view, nil
		})

		result, err := common.JSONResult(summary)
		if err != nil {
			return nil, err
		}
		result.IsError = summary.Successful == 0
		return result, nil
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("modules_activate", permissions.ActionManageOptions, handler)}
}

func deactivateModuleTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("modules_deactivate",
		mcp.WithDescription("Deactivate a module. Fails while active modules depend on it unless cascade is set, in which case the dependants are deactivated first."),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("The module slug"),
		),
		mcp.WithBoolean("cascade",
			mcp.Description("Also deactivate every active dependant (default: false)"),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slug := common.StringArg(request.GetArguments(), "slug")
		if slug == "" {
			return mcp.NewToolResultError("slug is required"), nil
		}

		deactivated, err := svc.Modules.Deactivate(ctx, slug, common.BoolArg(request.GetArguments(), "cascade", false))
		if err != nil {
			return common.ErrorResult("deactivate module", err), nil
		}
		return common.JSONResult(map[string][]string{"deactivated": deactivated})
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("modules_deactivate", permissions.ActionManageOptions, handler)}
}

func getSettingsTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("modules_get_settings",
		mcp.WithDescription("Get the settings of a module, or its defaults when none were saved"),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("The module slug"),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slug := common.StringArg(request.GetArguments(), "slug")
		if slug == "" {
			return mcp.NewToolResultError("slug is required"), nil
		}

		settings, err := svc.Modules.Settings(ctx, slug)
		if err != nil {
			return common.ErrorResult("get settings", err), nil
		}
		return common.JSONResult(settings)
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("modules_get_settings", permissions.ActionManageOptions, handler)}
}

func updateSettingsTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("modules_update_settings",
		mcp.WithDescription("Replace the settings of a module. Every field is validated; nothing is saved if any field is invalid."),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("The module slug"),
		),
		mcp.WithObject("settings",
			mcp.Required(),
			mcp.Description("The complete settings object"),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slug := common.StringArg(request.GetArguments(), "slug")
		if slug == "" {
			return mcp.NewToolResultError("slug is required"), nil
		}
		settings, ok := request.GetArguments()["settings"].(map[string]any)
		if !ok {
			return mcp.NewToolResultError("settings must be an object"), nil
		}

		if err := svc.Modules.SetSettings(ctx, slug, settings); err != nil {
			return common.ErrorResult("update settings", err), nil
		}
		return common.JSONResult(settings)
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("modules_update_settings", permissions.ActionManageOptions, handler)}
}

func getDataTool(svc *common.Services) mcpserver.ServerTool {
	tool := mcp.NewTool("modules_get_data",
		mcp.WithDescription("Fetch a datapoint of an active module from its Google API using the caller's credentials"),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("The module slug"),
		),
		mcp.WithString("datapoint",
			mcp.Required(),
			mcp.Description("The datapoint, e.g. 'accounts' for analytics"),
		),
	)

	handler := func(ctx context.Context, caller string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slug := common.StringArg(request.GetArguments(), "slug")
		if slug == "" {
			return mcp.NewToolResultError("slug is required"), nil
		}
		datapoint := common.StringArg(request.GetArguments(), "datapoint")
		if datapoint == "" {
			return mcp.NewToolResultError("datapoint is required"), nil
		}

		data, err := svc.Modules.Data(ctx, slug, caller, datapoint)
		if err != nil {
			return common.ErrorResult("get data", err), nil
		}
		return common.JSONResult(data)
	}

	return mcpserver.ServerTool{Tool: tool, Handler: svc.Instrumented("modules_get_data", permissions.ActionViewDashboard, handler)}
}
