package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/teemow/sitekit/internal/api"
	"github.com/teemow/sitekit/internal/auth"
	"github.com/teemow/sitekit/internal/config"
	"github.com/teemow/sitekit/internal/credentials"
	"github.com/teemow/sitekit/internal/google"
	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/logging"
	"github.com/teemow/sitekit/internal/modules"
	"github.com/teemow/sitekit/internal/options"
	"github.com/teemow/sitekit/internal/permissions"
	"github.com/teemow/sitekit/internal/server"
	"github.com/teemow/sitekit/internal/storage"
)

// App holds the wired components of one sitekit instance.
type App struct {
	Config      *config.Config
	Version     string
	Logger      *slog.Logger
	Provider    *instrumentation.Provider
	Store       storage.Store
	Options     *options.Store
	Credentials *credentials.Store
	Google      *google.Client
	Auth        *auth.Manager
	Modules     *modules.Registry
	Permissions *permissions.Static
	API         *api.API
	Health      *server.HealthChecker

	closers []func(context.Context) error
}

type settings struct {
	logger        *slog.Logger
	store         storage.Store
	endpoint      oauth2.Endpoint
	revokeURL     string
	moduleOptions []option.ClientOption
}

// Option customizes New.
type Option func(*settings)

// WithLogger replaces the logger built from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithStore uses store instead of opening the configured backend.
// The caller keeps ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(s *settings) { s.store = store }
}

// WithOAuthEndpoint points the OAuth client at another authorization server.
func WithOAuthEndpoint(endpoint oauth2.Endpoint, revokeURL string) Option {
	return func(s *settings) {
		s.endpoint = endpoint
		s.revokeURL = revokeURL
	}
}

// WithModuleClientOptions is passed to every Google API client the modules create.
func WithModuleClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.moduleOptions = append(s.moduleOptions, opts...) }
}

// New wires an App from cfg. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, version string, opts ...Option) (_ *App, err error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	a := &App{Config: cfg, Version: version, Logger: s.logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.Logger == nil {
		a.Logger = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	}

	telemetry := cfg.Telemetry
	telemetry.ServiceVersion = version
	a.Provider, err = instrumentation.NewProvider(ctx, telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	a.closers = append(a.closers, a.Provider.Shutdown)
	metrics := a.Provider.Metrics()
	audit := instrumentation.NewAuditLogger(a.Logger, cfg.Telemetry.AuditLogging)

	a.Store = s.store
	if a.Store == nil {
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Store = store
		a.closers = append(a.closers, closeStore)
	}

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	cipher, err := credentials.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential cipher: %w", err)
	}
	if key == nil {
		a.Logger.Warn("credentials are stored unencrypted, set SITEKIT_ENCRYPTION_KEY to encrypt them at rest")
	}

	a.Options = options.New(a.Store)
	a.Credentials = credentials.NewStore(a.Store, cipher)

	a.Google = google.NewClient(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     s.endpoint,
		RevokeURL:    s.revokeURL,
		Timeout:      cfg.TokenTimeout,
		Logger:       a.Logger,
	})

	secret, err := stateSecret(cfg, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Auth, err = auth.NewManager(auth.Config{
		Upstream:         a.Google,
		Credentials:      a.Credentials,
		Options:          a.Options,
		StateSecret:      secret,
		ClientConfigured: cfg.ClientConfigured(),
		RefreshSkew:      cfg.RefreshSkew,
		Metrics:          metrics,
		Audit:            audit,
		Logger:           a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth manager: %w", err)
	}

	a.Modules, err = modules.NewRegistry(modules.Config{
		Options: a.Options,
		Auth:    a.Auth,
		Metrics: metrics,
		Audit:   audit,
		Logger:  a.Logger,
		DataTTL: cfg.DataCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create module registry: %w", err)
	}
	if err := a.Modules.RegisterAll(modules.Catalog(s.moduleOptions...)); err != nil {
		return nil, fmt.Errorf("failed to register modules: %w", err)
	}
	a.Auth.SetScopeSource(a.Modules)

	a.Permissions = permissions.NewStatic(cfg.AdminUsers)
	if len(a.Permissions.Admins()) == 0 {
		a.Logger.Warn("no admin users configured, module activation and settings are unavailable")
	}

	a.API, err = api.New(api.Config{
		Auth:        a.Auth,
		Modules:     a.Modules,
		Permissions: a.Permissions,
		Prefix:      cfg.APIPrefix,
		AuthRate:    cfg.AuthRateRPS,
		AuthBurst:   cfg.AuthBurst,
		Metrics:     metrics,
		Logger:      a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api: %w", err)
	}

	a.Health = server.NewHealthChecker(a.Store)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// stateSecret returns the configured OAuth state secret, or a random one.
// A random secret invalidates pending authorizations on restart and
// breaks callbacks served by another replica.
func stateSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.StateSecret != "" {
		return []byte(cfg.StateSecret), nil
	}
	logger.Warn("SITEKIT_STATE_SECRET is not set, using a random secret for this process")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate state secret: %w", err)
	}
	return secret, nil
}
