package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/sitekit/internal/credentials"
	"github.com/teemow/sitekit/internal/google"
	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/logging"
	"github.com/teemow/sitekit/internal/options"
)

// DefaultRefreshSkew is how long before expiry an access token is refreshed.
const DefaultRefreshSkew = 5 * time.Minute

// Upstream is the Google OAuth client used by the Manager.
// It is satisfied by *google.Client.
type Upstream interface {
	AuthCodeURL(state string, scopes []string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Revoke(ctx context.Context, token string) error
	HTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client
}

// ScopeSource reports which scopes the active modules need.
// It is satisfied by *modules.Registry.
type ScopeSource interface {
	RequiredScopes(ctx context.Context) ([]string, error)
	ModuleScopes(slug string) ([]string, error)
}

// State is the derived authentication state of one site user.
type State struct {
	OwnerID         string   `json:"owner_id"`
	IsAuthenticated bool     `json:"is_authenticated"`
	IsSetupComplete bool     `json:"is_setup_complete"`
	GrantedScopes   []string `json:"granted_scopes"`
	RequiredScopes  []string `json:"required_scopes"`
	MissingScopes   []string `json:"missing_scopes"`
}

// CallbackParams are the query parameters Google redirects back with.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// Connection is the outcome of a completed authorization.
type Connection struct {
	*credentials.Credential

	// Redirect is the path the authorization was started from.
	Redirect string
}

// Config holds the Manager's collaborators.
type Config struct {
	Upstream    Upstream
	Credentials *credentials.Store
	Options     *options.Store

	// StateSecret signs the OAuth state parameter.
	StateSecret []byte

	// ClientConfigured reports whether an OAuth client id and secret are set.
	ClientConfigured bool

	// Random defaults to crypto/rand.Reader.
	Random io.Reader

	// Now defaults to time.Now.
	Now func() time.Time

	// RefreshSkew defaults to DefaultRefreshSkew.
	RefreshSkew time.Duration

	// StateTTL defaults to DefaultStateTTL.
	StateTTL time.Duration

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// Manager owns the credential lifecycle: acquisition, refresh and revocation.
type Manager struct {
	upstream    Upstream
	creds       *credentials.Store
	options     *options.Store
	secret      []byte
	configured  bool
	random      io.Reader
	now         func() time.Time
	skew        time.Duration
	stateTTL    time.Duration
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
	logger      *slog.Logger
	refreshes   singleflight.Group
	scopesMu    sync.RWMutex
	scopeSource ScopeSource
}

// NewManager creates a Manager.
func NewManager(config Config) (*Manager, error) {
	if config.Upstream == nil || config.Credentials == nil || config.Options == nil {
		return nil, errors.New("auth: upstream, credential store and options store are required")
	}
	if len(config.StateSecret) == 0 {
		return nil, errors.New("auth: state secret is required")
	}
	if config.Random == nil {
		config.Random = rand.Reader
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.RefreshSkew <= 0 {
		config.RefreshSkew = DefaultRefreshSkew
	}
	if config.StateTTL <= 0 {
		config.StateTTL = DefaultStateTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Manager{
		upstream:   config.Upstream,
		creds:      config.Credentials,
		options:    config.Options,
		secret:     config.StateSecret,
		configured: config.ClientConfigured,
		random:     config.Random,
		now:        config.Now,
		skew:       config.RefreshSkew,
		stateTTL:   config.StateTTL,
		metrics:    config.Metrics,
		audit:      config.Audit,
		logger:     config.Logger.With(slog.String("component", "auth")),
	}, nil
}

// SetScopeSource wires the module registry in. The registry is built after
// the Manager because it consults the Manager for granted scopes.
func (m *Manager) SetScopeSource(src ScopeSource) {
	m.scopesMu.Lock()
	defer m.scopesMu.Unlock()
	m.scopeSource = src
}

func (m *Manager) requiredScopes(ctx context.Context) ([]string, error) {
	m.scopesMu.RLock()
	src := m.scopeSource
	m.scopesMu.RUnlock()
	if src == nil {
		return nil, nil
	}
	return src.RequiredScopes(ctx)
}

func (m *Manager) moduleScopes(slug string) ([]string, error) {
	m.scopesMu.RLock()
	src := m.scopeSource
	m.scopesMu.RUnlock()
	if src == nil {
		return nil, fmt.Errorf("unknown module %q", slug)
	}
	return src.ModuleScopes(slug)
}

// AuthState derives the owner's authentication state. It never fails;
// storage problems are logged and reported as unauthenticated.
func (m *Manager) AuthState(ctx context.Context, owner string) State {
	ctx, span := instrumentation.StartAuthSpan(ctx, "state")
	defer span.End()

	logger := logging.WithOperation(m.logger, "auth_state").With(logging.OwnerHash(owner))

	state := State{
		OwnerID:         owner,
		IsSetupComplete: m.setupComplete(ctx, logger),
		GrantedScopes:   []string{},
	}

	required, err := m.requiredScopes(ctx)
	if err != nil {
		logger.Warn("failed to resolve required scopes", logging.Err(err))
	}
	state.RequiredScopes = nonNil(required)

	rec, err := m.creds.Get(ctx, owner)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		state.MissingScopes = state.RequiredScopes
		return state
	case err != nil:
		logger.Warn("failed to read credential", logging.Err(err))
		state.MissingScopes = state.RequiredScopes
		return state
	}

	cred := rec.Credential
	state.IsAuthenticated = true
	if cred.ExpiresWithin(m.now(), m.skew) {
		refreshed, err := m.RefreshIfNeeded(ctx, owner)
		switch {
		case err == nil:
			cred = refreshed
		case errors.Is(err, ErrReauthRequired):
			state.IsAuthenticated = false
			state.MissingScopes = state.RequiredScopes
			return state
		default:
			logger.Warn("refresh failed while deriving state", logging.Err(err))
			state.IsAuthenticated = cred.RefreshToken != ""
		}
	}

	state.GrantedScopes = nonNil(cred.Scopes)
	state.MissingScopes = nonNil(cred.MissingScopes(state.RequiredScopes))
	return state
}

func (m *Manager) setupComplete(ctx context.Context, logger *slog.Logger) bool {
	if !m.configured {
		return false
	}
	var siteURL string
	found, err := m.options.Get(ctx, options.SiteURLKey, &siteURL)
	if err != nil {
		logger.Warn("failed to read site url", logging.Err(err))
		return false
	}
	return found && siteURL != ""
}

// GrantedScopes returns the scopes of the owner's stored credential, or nil
// when the owner is not connected.
func (m *Manager) GrantedScopes(ctx context.Context, owner string) ([]string, error) {
	rec, err := m.creds.Get(ctx, owner)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Scopes, nil
}

// AuthenticationURL builds the Google consent URL for owner. The requested
// scopes are merged with the identity scopes and everything active modules need.
func (m *Manager) AuthenticationURL(ctx context.Context, owner, redirect string, requested []string) (string, error) {
	ctx, span := instrumentation.StartAuthSpan(ctx, "authentication_url")
	var err error
	defer func() { instrumentation.EndSpan(span, err) }()

	required, err := m.requiredScopes(ctx)
	if err != nil {
		return "", err
	}

	nonce, err := newNonce(m.random)
	if err != nil {
		return "", err
	}
	state, err := signState(m.secret, owner, redirect, nonce, m.now(), m.stateTTL)
	if err != nil {
		return "", err
	}

	return m.upstream.AuthCodeURL(state, mergeScopes(google.BaseScopes, requested, required)), nil
}

// ReauthURL builds a consent URL asking for the scopes module slug needs
// but owner has not granted yet.
func (m *Manager) ReauthURL(ctx context.Context, owner, slug, redirect string) (string, error) {
	needed, err := m.moduleScopes(slug)
	if err != nil {
		return "", err
	}
	granted, err := m.GrantedScopes(ctx, owner)
	if err != nil {
		return "", err
	}
	if redirect == "" {
		redirect = "/modules/" + slug + "?reauth=true"
	}
	return m.AuthenticationURL(ctx, owner, redirect, credentials.MissingScopes(granted, needed))
}

// HandleCallback completes an authorization for owner. On a scope mismatch
// the credential is stored anyway and the returned error lists what is missing.
func (m *Manager) HandleCallback(ctx context.Context, owner string, params CallbackParams) (*Connection, error) {
	ctx, span := instrumentation.StartAuthSpan(ctx, "callback")
	var err error
	defer func() { instrumentation.EndSpan(span, err) }()

	logger := logging.WithOperation(m.logger, "callback").With(logging.OwnerHash(owner))

	conn, err := m.handleCallback(ctx, owner, params)

	result := instrumentation.OAuthResultSuccess
	switch {
	case errors.Is(err, ErrScopeMismatch):
		result = instrumentation.OAuthResultScopeMismatch
	case err != nil:
		result = instrumentation.OAuthResultFailure
	}
	m.metrics.RecordOAuthAuth(ctx, result)

	event := instrumentation.AuditEvent{Name: instrumentation.AuditConnected, Owner: owner, Success: err == nil}
	if conn != nil {
		event.Scopes = conn.Scopes
	}
	if err != nil {
		event.Error = err.Error()
		logger.Warn("authorization callback failed", logging.Err(err))
	} else {
		logger.Info("site user connected")
	}
	m.audit.Log(ctx, event)

	return conn, err
}

func (m *Manager) handleCallback(ctx context.Context, owner string, params CallbackParams) (*Connection, error) {
	if params.Error != "" {
		return nil, invalidGrant("authorization denied: "+params.Error, nil)
	}
	claims, err := parseState(m.secret, params.State, owner, m.now)
	if err != nil {
		return nil, invalidGrant("state verification failed", err)
	}
	if params.Code == "" {
		return nil, invalidGrant("missing authorization code", nil)
	}

	tok, err := m.upstream.Exchange(ctx, params.Code)
	if err != nil {
		if errors.Is(err, google.ErrUnavailable) {
			return nil, transientFailure("code exchange failed", err)
		}
		return nil, invalidGrant("code exchange rejected", err)
	}

	cred := &credentials.Credential{
		OwnerID:      owner,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scopes:       google.GrantedScopes(tok),
		ExpiresAt:    tok.Expiry,
	}
	// Incremental authorization may omit the refresh token.
	if cred.RefreshToken == "" {
		if prev, err := m.creds.Get(ctx, owner); err == nil {
			cred.RefreshToken = prev.RefreshToken
		}
	}
	if err := m.creds.Put(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	conn := &Connection{Credential: cred, Redirect: claims.Redirect}

	required, err := m.requiredScopes(ctx)
	if err != nil {
		return conn, err
	}
	if missing := cred.MissingScopes(required); len(missing) > 0 {
		return conn, scopeMismatch(missing)
	}
	return conn, nil
}

// RefreshIfNeeded returns owner's credential, refreshing it first when the
// access token expires within the skew window. Concurrent calls for one
// owner share a single upstream refresh. The shared refresh is not tied to
// any caller's cancellation; the upstream client bounds it with its own
// timeout, and each caller stops waiting when its own ctx ends.
func (m *Manager) RefreshIfNeeded(ctx context.Context, owner string) (*credentials.Credential, error) {
	shared := context.WithoutCancel(ctx)
	ch := m.refreshes.DoChan(owner, func() (any, error) {
		return m.refresh(shared, owner)
	})

	select {
	case <-ctx.Done():
		return nil, transientFailure("token refresh abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*credentials.Credential), nil
	}
}

func (m *Manager) refresh(ctx context.Context, owner string) (*credentials.Credential, error) {
	rec, err := m.creds.Get(ctx, owner)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, reauthRequired("no credential stored")
	}
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresWithin(m.now(), m.skew) {
		return rec.Credential, nil
	}

	ctx, span := instrumentation.StartAuthSpan(ctx, "refresh")
	defer span.End()

	logger := logging.WithOperation(m.logger, "refresh").With(logging.OwnerHash(owner))

	tok, err := m.upstream.Refresh(ctx, rec.RefreshToken)
	if errors.Is(err, google.ErrInvalidGrant) {
		if _, derr := m.creds.DeleteIfUnchanged(ctx, rec); derr != nil {
			logger.Warn("failed to delete rejected credential", logging.Err(derr))
		}
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
		m.audit.Log(ctx, instrumentation.AuditEvent{
			Name:    instrumentation.AuditReauthRequired,
			Owner:   owner,
			Success: false,
			Error:   err.Error(),
		})
		logger.Info("refresh token rejected, re-authentication required")
		instrumentation.SetSpanError(span, err)
		return nil, reauthRequired("refresh token rejected")
	}
	if err != nil {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		instrumentation.SetSpanError(span, err)
		return nil, transientFailure("token refresh failed", err)
	}

	next := &credentials.Credential{
		OwnerID:      owner,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scopes:       google.GrantedScopes(tok),
		ExpiresAt:    tok.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = rec.RefreshToken
	}
	if next.Scopes == nil {
		next.Scopes = rec.Scopes
	}

	swapped, err := m.creds.Replace(ctx, rec, next)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Another writer got there first; a revoke removes the key.
		cur, err := m.creds.Get(ctx, owner)
		if errors.Is(err, credentials.ErrNotFound) {
			m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultRevoked)
			logger.Info("credential revoked during refresh")
			return nil, reauthRequired("credential revoked during refresh")
		}
		if err != nil {
			return nil, err
		}
		return cur.Credential, nil
	}

	m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	logger.Debug("access token refreshed", slog.Time("expires_at", next.ExpiresAt))
	instrumentation.SetSpanSuccess(span)
	return next, nil
}

// Revoke disconnects owner. The local credential is always deleted; a
// failing remote revocation is only logged.
func (m *Manager) Revoke(ctx context.Context, owner string) error {
	ctx, span := instrumentation.StartAuthSpan(ctx, "revoke")
	var err error
	defer func() { instrumentation.EndSpan(span, err) }()

	logger := logging.WithOperation(m.logger, "revoke").With(logging.OwnerHash(owner))

	rec, err := m.creds.Get(ctx, owner)
	if errors.Is(err, credentials.ErrNotFound) {
		err = nil
		return nil
	}
	if err != nil {
		return err
	}

	if err = m.creds.Delete(ctx, owner); err != nil {
		return err
	}

	token := rec.RefreshToken
	if token == "" {
		token = rec.AccessToken
	}
	status := instrumentation.StatusSuccess
	if rerr := m.upstream.Revoke(ctx, token); rerr != nil {
		status = instrumentation.StatusError
		logger.Warn("remote token revocation failed", logging.Err(rerr))
	}
	m.metrics.RecordOAuthRevocation(ctx, status)
	m.audit.Log(ctx, instrumentation.AuditEvent{Name: instrumentation.AuditDisconnected, Owner: owner, Success: true})
	logger.Info("site user disconnected")
	return nil
}

// HTTPClient returns an HTTP client authorized as owner. Tokens are
// refreshed through RefreshIfNeeded as they approach expiry.
func (m *Manager) HTTPClient(ctx context.Context, owner string) (*http.Client, error) {
	cred, err := m.RefreshIfNeeded(ctx, owner)
	if err != nil {
		return nil, err
	}
	ts := oauth2.ReuseTokenSourceWithExpiry(cred.Token(), &tokenSource{ctx: ctx, owner: owner, m: m}, m.skew)
	return m.upstream.HTTPClient(ctx, ts), nil
}

type tokenSource struct {
	ctx   context.Context
	owner string
	m     *Manager
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	cred, err := ts.m.RefreshIfNeeded(ts.ctx, ts.owner)
	if err != nil {
		return nil, err
	}
	return cred.Token(), nil
}

func mergeScopes(sets ...[]string) []string {
	var out []string
	for _, set := range sets {
		out = append(out, set...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
