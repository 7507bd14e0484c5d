package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/sitekit/internal/app"
	"github.com/teemow/sitekit/internal/config"
	"github.com/teemow/sitekit/internal/logging"
)

// Supported transports.
const (
	transportHTTP  = "http"
	transportStdio = "stdio"
)

type serveOptions struct {
	transport string
	addr      string
	mcp       bool
	yolo      bool
	debug     bool
}

func newServeCmd(version string) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sitekit server",
		Long: `Start the sitekit server.

With the http transport (default) the REST API is served under
SITEKIT_API_PREFIX, next to /healthz and /readyz. --mcp additionally mounts
the MCP streamable HTTP endpoint at /mcp; callers identify themselves with
the X-User-ID header.

With the stdio transport only MCP is served, on stdin and stdout. Every tool
call runs as SITEKIT_MCP_OWNER.

MCP tools that change state are only registered with --yolo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.debug)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, version, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", transportHTTP, "Transport type: http or stdio")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (default: SITEKIT_HTTP_ADDR)")
	cmd.Flags().BoolVar(&opts.mcp, "mcp", false, "Mount the MCP endpoint on the HTTP server")
	cmd.Flags().BoolVar(&opts.yolo, "yolo", false, "Register MCP tools that change state (activation, settings, disconnect). Default is read-only.")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return cmd
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(debug bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config, version string, opts serveOptions) error {
	if opts.transport != transportHTTP && opts.transport != transportStdio {
		return fmt.Errorf("unsupported transport type: %s (supported: http, stdio)", opts.transport)
	}
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			a.Logger.Warn("error during shutdown", logging.Err(err))
		}
	}()

	readOnly := !opts.yolo
	if opts.transport == transportStdio {
		return a.ServeStdio(ctx, readOnly, os.Stdin, os.Stdout)
	}
	return a.ServeHTTP(ctx, app.ServeOptions{
		Addr:     opts.addr,
		MCP:      opts.mcp,
		ReadOnly: readOnly,
	})
}
