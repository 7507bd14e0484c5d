package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/teemow/sitekit/internal/auth"
	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/modules"
	"github.com/teemow/sitekit/internal/permissions"
)

// DefaultPrefix is where the routes are mounted unless configured otherwise.
const DefaultPrefix = "/sitekit/v1"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// AuthService is the authentication surface used by the routes.
// It is satisfied by *auth.Manager.
type AuthService interface {
	AuthState(ctx context.Context, owner string) auth.State
	AuthenticationURL(ctx context.Context, owner, redirect string, scopes []string) (string, error)
	ReauthURL(ctx context.Context, owner, slug, redirect string) (string, error)
	HandleCallback(ctx context.Context, owner string, params auth.CallbackParams) (*auth.Connection, error)
	Revoke(ctx context.Context, owner string) error
}

// ModuleService is the module surface used by the routes.
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

// Config configures the route layer.
type Config struct {
	Auth        AuthService
	Modules     ModuleService
	Permissions permissions.Checker

	// Prefix defaults to DefaultPrefix.
	Prefix string

	// AuthRate and AuthBurst limit authentication requests per caller.
	// A zero rate disables limiting.
	AuthRate  float64
	AuthBurst int

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// API is the stateless REST facade over the authentication manager and
// the module registry.
type API struct {
	auth     AuthService
	modules  ModuleService
	perms    permissions.Checker
	prefix   string
	limiter  *callerLimiter
	metrics  *instrumentation.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates the route layer.
func New(config Config) (*API, error) {
	if config.Auth == nil || config.Modules == nil || config.Permissions == nil {
		return nil, errors.New("api: auth, modules and permissions are required")
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	a := &API{
		auth:     config.Auth,
		modules:  config.Modules,
		perms:    config.Permissions,
		prefix:   "/" + strings.Trim(config.Prefix, "/"),
		metrics:  config.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   config.Logger.With(slog.String("component", "api")),
	}
	if config.AuthRate > 0 {
		burst := config.AuthBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = newCallerLimiter(config.AuthRate, burst)
	}
	return a, nil
}

// Handler returns the router with every route mounted under the prefix.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID(a.logger))
	r.Use(recovery(a.logger))
	r.Use(recordMetrics(a.metrics))

	r.Route(a.prefix, func(r chi.Router) {
		r.Use(identify)

		r.Route("/auth", func(r chi.Router) {
			r.Use(authorize(a.perms, permissions.ActionAuthenticate))
			if a.limiter != nil {
				r.Use(rateLimit(a.limiter))
			}
			r.Get("/", a.getAuthState)
			r.Get("/url", a.getAuthURL)
			r.Post("/callback", a.postCallback)
			r.Post("/disconnect", a.postDisconnect)
		})

		r.Route("/modules", func(r chi.Router) {
			r.With(authorize(a.perms, permissions.ActionViewDashboard)).Get("/", a.listModules)
			r.With(authorize(a.perms, permissions.ActionViewDashboard)).Get("/{slug}", a.getModule)
			r.With(authorize(a.perms, permissions.ActionManageOptions)).Post("/{slug}/activation", a.postActivation)
			r.With(authorize(a.perms, permissions.ActionManageOptions)).Get("/{slug}/settings", a.getSettings)
			r.With(authorize(a.perms, permissions.ActionManageOptions)).Put("/{slug}/settings", a.putSettings)
			r.With(authorize(a.perms, permissions.ActionViewDashboard)).Get("/{slug}/data/{datapoint}", a.getData)
		})
	})
	return r
}

// --- Request DTOs ---

// CallbackRequest is the JSON body of POST /auth/callback.
type CallbackRequest struct {
	Code  string `json:"code" validate:"required_without=Error"`
	State string `json:"state" validate:"required"`
	Error string `json:"error"`
}

// ActivationRequest is the JSON body of POST /modules/{slug}/activation.
type ActivationRequest struct {
	Active  *bool `json:"active" validate:"required"`
	Cascade bool  `json:"cascade"`
}

// --- Auth handlers ---

// getAuthState handles GET /auth
func (a *API) getAuthState(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, a.auth.AuthState(r.Context(), CallerFromContext(r.Context())))
}

// getAuthURL handles GET /auth/url
func (a *API) getAuthURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := CallerFromContext(ctx)
	q := r.URL.Query()

	var (
		url string
		err error
	)
	if slug := q.Get("module"); slug != "" {
		url, err = a.auth.ReauthURL(ctx, caller, slug, q.Get("redirect"))
	} else {
		url, err = a.auth.AuthenticationURL(ctx, caller, q.Get("redirect"), splitList(q.Get("scopes")))
	}
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"url": url})
}

// postCallback handles POST /auth/callback
func (a *API) postCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if !a.decode(w, r, &req) {
		return
	}

	conn, err := a.auth.HandleCallback(r.Context(), CallerFromContext(r.Context()), auth.CallbackParams{
		Code:  req.Code,
		State: req.State,
		Error: req.Error,
	})
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"redirect": conn.Redirect,
		"scopes":   conn.Scopes,
	})
}

// postDisconnect handles POST /auth/disconnect
func (a *API) postDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Revoke(r.Context(), CallerFromContext(r.Context())); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"disconnected": true})
}

// --- Module handlers ---

// listModules handles GET /modules
func (a *API) listModules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := modules.Filter{
		ActiveOnly:      parseBool(q.Get("active")),
		ExcludeInternal: parseBool(q.Get("exclude_internal")),
		Owner:           CallerFromContext(r.Context()),
	}

	views := []modules.View{}
	for v, err := range a.modules.List(r.Context(), filter) {
		if err != nil {
			writeError(w, r, a.logger, err)
			return
		}
		views = append(views, v)
	}
	writeData(w, http.StatusOK, views)
}

// getModule handles GET /modules/{slug}
func (a *API) getModule(w http.ResponseWriter, r *http.Request) {
	view, err := a.modules.Get(r.Context(), chi.URLParam(r, "slug"), CallerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// postActivation handles POST /modules/{slug}/activation
func (a *API) postActivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	caller := CallerFromContext(ctx)

	var req ActivationRequest
	if !a.decode(w, r, &req) {
		return
	}

	view, err := a.modules.Get(ctx, slug, caller)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if view.Internal {
		writeError(w, r, a.logger, &modules.Error{Code: modules.CodeModuleInternal, Slug: slug, Description: "internal modules cannot be toggled"})
		return
	}

	if *req.Active {
		activated, err := a.modules.Activate(ctx, slug, caller)
		if err != nil {
			writeError(w, r, a.logger, err)
			return
		}
		writeData(w, http.StatusOK, activated)
		return
	}

	deactivated, err := a.modules.Deactivate(ctx, slug, req.Cascade)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string][]string{"deactivated": deactivated})
}

// getSettings handles GET /modules/{slug}/settings
func (a *API) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.modules.Settings(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, settings)
}

// putSettings handles PUT /modules/{slug}/settings
func (a *API) putSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&values); err != nil || values == nil {
		writeFailure(w, http.StatusBadRequest, CodeInvalidRequest, "request body must be a JSON object")
		return
	}

	slug := chi.URLParam(r, "slug")
	if err := a.modules.SetSettings(r.Context(), slug, values); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, values)
}

// getData handles GET /modules/{slug}/data/{datapoint}
func (a *API) getData(w http.ResponseWriter, r *http.Request) {
	data, err := a.modules.Data(r.Context(), chi.URLParam(r, "slug"), CallerFromContext(r.Context()), chi.URLParam(r, "datapoint"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeData(w, http.StatusOK, data)
}

// --- Helpers ---

// decode reads a JSON body into dst and validates it, writing a 400
// envelope and returning false on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
