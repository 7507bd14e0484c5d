package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/sitekit/internal/api"
	"github.com/teemow/sitekit/internal/app"
	"github.com/teemow/sitekit/internal/config"
	"github.com/teemow/sitekit/internal/storage/memory"
)

func newGenerateDocsCmd(version string) *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, ensuring the documentation is always accurate and in sync
with the actual tool implementations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(cmd.Context(), version, outputFile, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// docsConfig is enough configuration to register every tool without
// touching the environment or real storage.
func docsConfig() *config.Config {
	return &config.Config{
		LogLevel:     "error",
		APIPrefix:    api.DefaultPrefix,
		StorageType:  config.StorageMemory,
		TokenTimeout: 10 * time.Second,
	}
}

func runGenerateDocs(ctx context.Context, version, outputFile string, stdout io.Writer) error {
	a, err := app.New(ctx, docsConfig(), version,
		app.WithStore(memory.New()),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		_ = a.Close(context.WithoutCancel(ctx))
	}()

	// Register all tools, including those that change state
	mcpSrv, err := a.MCPServer(false)
	if err != nil {
		return err
	}

	serverTools := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}

	markdown := generateToolsMarkdown(tools)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
		return nil
	}
	_, err = io.WriteString(stdout, markdown)
	return err
}

// toolCategories maps a tool name prefix to its section title.
var toolCategories = map[string]string{
	"auth":    "Authentication Tools",
	"modules": "Module Tools",
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document provides a complete reference of all tools available when running sitekit as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	byCategory := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := getCategoryFromToolName(tool.Name)
		byCategory[category] = append(byCategory[category], tool)
	}
	categories := slices.Sorted(maps.Keys(byCategory))

	sb.WriteString("## Table of Contents\n\n")
	for _, category := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(category, " ", "-"))
		fmt.Fprintf(&sb, "- [%s](#%s)\n", category, anchor)
	}
	sb.WriteString("\n")

	sb.WriteString("## Caller Identity\n\n")
	sb.WriteString("Every tool runs as a site user:\n\n")
	sb.WriteString("- **HTTP transport:** the `X-User-ID` header of the MCP request\n")
	sb.WriteString("- **stdio transport:** the `SITEKIT_MCP_OWNER` environment variable\n\n")
	sb.WriteString("Tools that change state are only registered when the server runs with `--yolo`.\n\n")

	for _, category := range categories {
		fmt.Fprintf(&sb, "## %s\n\n", category)
		group := byCategory[category]
		slices.SortFunc(group, func(a, b mcp.Tool) int { return strings.Compare(a.Name, b.Name) })
		for _, tool := range group {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func getCategoryFromToolName(name string) string {
	prefix, _, _ := strings.Cut(name, "_")
	if category, ok := toolCategories[prefix]; ok {
		return category
	}
	return "Other"
}

// generateToolMarkdown renders one tool with its arguments as a table.
func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}
	if len(tool.InputSchema.Properties) == 0 {
		sb.WriteString("_No arguments._\n")
		return sb.String()
	}

	sb.WriteString("| Argument | Type | Required | Description |\n")
	sb.WriteString("|----------|------|----------|-------------|\n")
	for _, name := range slices.Sorted(maps.Keys(tool.InputSchema.Properties)) {
		prop, ok := tool.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		propType := "any"
		if t, ok := prop["type"].(string); ok {
			propType = t
		}
		required := "no"
		if slices.Contains(tool.InputSchema.Required, name) {
			required = "yes"
		}
		desc, _ := prop["description"].(string)
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s |\n", name, propType, required, strings.ReplaceAll(desc, "|", "\\|"))
	}

	return sb.String()
}
