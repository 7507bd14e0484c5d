package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/sitekit/internal/api"
	"github.com/teemow/sitekit/internal/config"
	"github.com/teemow/sitekit/internal/google"
	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/modules"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:           "debug",
		LogFormat:          "text",
		HTTPAddr:           "127.0.0.1:0",
		APIPrefix:          api.DefaultPrefix,
		GoogleClientID:     "client-id",
		GoogleClientSecret: "client-secret",
		RedirectURL:        "http://localhost/sitekit/v1/auth/callback",
		StateSecret:        "state-secret",
		TokenTimeout:       5 * time.Second,
		RefreshSkew:        5 * time.Minute,
		AdminUsers:         []string{"admin"},
		MCPOwner:           "admin",
		StorageType:        config.StorageMemory,
		Telemetry:          instrumentation.Config{Enabled: false},
	}
}

// tokenServer is a fake Google token endpoint granting scopes().
func tokenServer(t *testing.T, scopes func() []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access",
				"refresh_token": "refresh",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"scope":         strings.Join(scopes(), " "),
			})
		case "/revoke":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, scopes func() []string) *App {
	t.Helper()
	srv := tokenServer(t, scopes)
	a, err := New(context.Background(), testConfig(), "test",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithOAuthEndpoint(oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}, srv.URL+"/revoke"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(api.HeaderUserID, "admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestScenario_ActivationCascade(t *testing.T) {
	var granted []string
	a := newTestApp(t, func() []string { return granted })
	h := a.API.Handler()

	// The internal site verification module is always active, so its scope
	// is required as well.
	for _, slug := range []string{modules.SlugSiteVerification, modules.SlugAnalytics} {
		scopes, err := a.Modules.ModuleScopes(slug)
		require.NoError(t, err)
		granted = append(granted, scopes...)
	}
	granted = append(granted, google.BaseScopes...)
	analyticsScopes, err := a.Modules.ModuleScopes(modules.SlugAnalytics)
	require.NoError(t, err)

	// Not connected yet: the base module lacks its scope.
	status, env := do(t, h, http.MethodPost, "/sitekit/v1/modules/analytics/activation", `{"active":true}`)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, modules.CodeInsufficientScope, env.Error.Code)
	assert.Equal(t, []any{analyticsScopes[0]}, env.Error.Details["missing_scopes"])

	// Grant the scopes through the consent flow.
	status, env = do(t, h, http.MethodGet, "/sitekit/v1/auth/url?module=analytics", "")
	require.Equal(t, http.StatusOK, status)
	var link struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &link))
	consent, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Contains(t, consent.Query().Get("scope"), analyticsScopes[0])

	body, _ := json.Marshal(map[string]string{"code": "auth-code", "state": consent.Query().Get("state")})
	status, env = do(t, h, http.MethodPost, "/sitekit/v1/auth/callback", string(body))
	require.Equal(t, http.StatusOK, status, string(env.Data))
	assert.Contains(t, string(env.Data), `"redirect":"/modules/analytics?reauth=true"`)

	// Activate base, then the reporting module depending on it.
	for _, slug := range []string{modules.SlugAnalytics, modules.SlugOptimize} {
		status, env = do(t, h, http.MethodPost, "/sitekit/v1/modules/"+slug+"/activation", `{"active":true}`)
		require.Equal(t, http.StatusOK, status, slug)
		var view modules.View
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.True(t, view.Active, slug)
	}

	// The base module cannot go while its dependant is active.
	status, env = do(t, h, http.MethodPost, "/sitekit/v1/modules/analytics/activation", `{"active":false}`)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, modules.CodeHasActiveDependants, env.Error.Code)
	assert.Equal(t, []any{modules.SlugOptimize}, env.Error.Details["modules"])

	// With cascade both end inactive, dependants first.
	status, env = do(t, h, http.MethodPost, "/sitekit/v1/modules/analytics/activation", `{"active":false,"cascade":true}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"deactivated":["optimize","analytics"]}`, string(env.Data))

	status, env = do(t, h, http.MethodGet, "/sitekit/v1/modules?active=true&exclude_internal=true", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestAuthState_AfterDisconnect(t *testing.T) {
	a := newTestApp(t, func() []string { return google.BaseScopes })
	h := a.API.Handler()

	status, _ := do(t, h, http.MethodPost, "/sitekit/v1/auth/disconnect", "")
	require.Equal(t, http.StatusOK, status, "disconnecting without a credential succeeds")

	status, env := do(t, h, http.MethodGet, "/sitekit/v1/auth", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"is_authenticated":false`)
}

func TestNew_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.StorageType = config.StorageRedis
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"}

	a, err := New(context.Background(), cfg, "test", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	require.NoError(t, a.Options.Set(context.Background(), "site:url", "https://example.com"))
	assert.True(t, mr.Exists("test:site:url"))

	require.NoError(t, a.Close(context.Background()))
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unreachable redis", mutate: func(c *config.Config) {
			c.StorageType = config.StorageRedis
			c.Redis.Addr = "127.0.0.1:1"
		}},
		{name: "unknown storage", mutate: func(c *config.Config) { c.StorageType = "etcd" }},
		{name: "bad encryption key", mutate: func(c *config.Config) { c.EncryptionKey = "c2hvcnQ=" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, "test", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			assert.Error(t, err)
		})
	}
}

func TestNew_RandomStateSecret(t *testing.T) {
	cfg := testConfig()
	cfg.StateSecret = ""

	a, err := New(context.Background(), cfg, "test", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer a.Close(context.Background())

	u, err := a.Auth.AuthenticationURL(context.Background(), "admin", "", nil)
	require.NoError(t, err)
	assert.Contains(t, u, "state=")
}

func TestMCPServer(t *testing.T) {
	a := newTestApp(t, func() []string { return nil })

	s, err := a.MCPServer(false)
	require.NoError(t, err)
	assert.Len(t, s.ListTools(), 10)

	s, err = a.MCPServer(true)
	require.NoError(t, err)
	assert.Len(t, s.ListTools(), 6)
}

func TestHTTPServer_Routes(t *testing.T) {
	a := newTestApp(t, func() []string { return nil })

	srv, err := a.HTTPServer(ServeOptions{MCP: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	status, env := do(t, srv.Handler(), http.MethodGet, "/sitekit/v1/modules/analytics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestServeHTTP_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, func() []string { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServeHTTP(ctx, ServeOptions{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeHTTP did not return after cancel")
	}
}
