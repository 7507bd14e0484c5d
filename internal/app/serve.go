package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/sitekit/internal/api"
	"github.com/teemow/sitekit/internal/server"
	"github.com/teemow/sitekit/internal/tools/auth_tools"
	"github.com/teemow/sitekit/internal/tools/common"
	"github.com/teemow/sitekit/internal/tools/module_tools"
)

// ServeOptions selects what ServeHTTP exposes.
type ServeOptions struct {
	// Addr overrides the configured listen address.
	Addr string

	// MCP mounts the MCP streamable HTTP endpoint next to the REST routes.
	MCP bool

	// ReadOnly leaves out MCP tools that change state.
	ReadOnly bool
}

// MCPServer creates an MCP server with every admin tool registered.
func (a *App) MCPServer(readOnly bool) (*mcpserver.MCPServer, error) {
	s := mcpserver.NewMCPServer("sitekit", a.Version,
		mcpserver.WithToolCapabilities(true),
	)

	svc := &common.Services{
		Auth:         a.Auth,
		Modules:      a.Modules,
		Permissions:  a.Permissions,
		Metrics:      a.Provider.Metrics(),
		Logger:       a.Logger,
		DefaultOwner: a.Config.MCPOwner,
	}

	registrations := []struct {
		name     string
		register func() error
	}{
		{name: "auth", register: func() error { return auth_tools.RegisterAuthTools(s, svc, readOnly) }},
		{name: "module", register: func() error { return module_tools.RegisterModuleTools(s, svc, readOnly) }},
	}
	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return nil, fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}
	return s, nil
}

// HTTPServer builds the API server without starting it.
func (a *App) HTTPServer(opts ServeOptions) (*server.HTTPServer, error) {
	addr := opts.Addr
	if addr == "" {
		addr = a.Config.HTTPAddr
	}

	var mcpHandler http.Handler
	if opts.MCP {
		s, err := a.MCPServer(opts.ReadOnly)
		if err != nil {
			return nil, err
		}
		mcpHandler = mcpserver.NewStreamableHTTPServer(s,
			mcpserver.WithEndpointPath(server.MCPPath),
			mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
				return common.WithCaller(ctx, r.Header.Get(api.HeaderUserID))
			}),
		)
	}

	return server.New(server.Config{
		Addr:   addr,
		API:    a.API.Handler(),
		MCP:    mcpHandler,
		Health: a.Health,
		Logger: a.Logger,
	})
}

// ServeHTTP runs the API server, and the metrics server when prometheus
// metrics are enabled, until ctx ends or a server fails.
func (a *App) ServeHTTP(ctx context.Context, opts ServeOptions) error {
	httpSrv, err := a.HTTPServer(opts)
	if err != nil {
		return err
	}

	var metricsSrv *server.MetricsServer
	if a.Config.MetricsEnabled && a.Provider.PrometheusEnabled() {
		metricsSrv, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    a.Config.MetricsAddr,
			InstrumentationProvider: a.Provider,
			Logger:                  a.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.ListenAndServe)
	if metricsSrv != nil {
		g.Go(metricsSrv.ListenAndServe)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
		defer cancel()

		errs := []error{httpSrv.Shutdown(shutdownCtx)}
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	a.Logger.Info("sitekit started",
		slog.String("addr", httpSrv.Addr()),
		slog.Bool("mcp", opts.MCP),
		slog.Bool("read_only", opts.ReadOnly))
	return g.Wait()
}

// ServeStdio serves MCP on stdin and stdout until ctx ends or the input
// is closed. Logs must not go to stdout in this mode.
func (a *App) ServeStdio(ctx context.Context, readOnly bool, in io.Reader, out io.Writer) error {
	s, err := a.MCPServer(readOnly)
	if err != nil {
		return err
	}
	if a.Config.MCPOwner == "" {
		a.Logger.Warn("SITEKIT_MCP_OWNER is not set, every tool call will be rejected")
	}

	if err := mcpserver.NewStdioServer(s).Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server stopped with error: %w", err)
	}
	return nil
}
