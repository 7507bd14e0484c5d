package common

import (
	"context"
	"iter"
	"log/slog"

	"github.com/teemow/sitekit/internal/auth"
	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/modules"
	"github.com/teemow/sitekit/internal/permissions"
)

// AuthService is the authentication surface the tools call.
// It is satisfied by *auth.Manager.
type AuthService interface {
	AuthState(ctx context.Context, owner string) auth.State
	AuthenticationURL(ctx context.Context, owner, redirect string, scopes []string) (string, error)
	ReauthURL(ctx context.Context, owner, slug, redirect string) (string, error)
	Revoke(ctx context.Context, owner string) error
}

// ModuleService is the module surface the tools call.
// It is satisfied by *modules.Registry.
type ModuleService interface {
	List(ctx context.Context, filter modules.Filter) iter.Seq2[modules.View, error]
	Get(ctx context.Context, slug, owner string) (*modules.View, error)
	Activate(ctx context.Context, slug, owner string) (*modules.View, error)
	Deactivate(ctx context.Context, slug string, cascade bool) ([]string, error)
	Settings(ctx context.Context, slug string) (map[string]any, error)
	SetSettings(ctx context.Context, slug string, values map[string]any) error
	Data(ctx context.Context, slug, owner, datapoint string) (any, error)
}

// Services bundles what tool handlers need. It is built once by the
// composition root and shared by every tool package.
type Services struct {
	Auth        AuthService
	Modules     ModuleService
	Permissions permissions.Checker
	Metrics     *instrumentation.Metrics
	Logger      *slog.Logger

	// DefaultOwner acts as the caller when the transport carries no
	// identity, as with stdio.
	DefaultOwner string
}

func (s *Services) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
