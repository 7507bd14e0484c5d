package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/sitekit/internal/logging"
)

// DefaultRevokeURL is Google's token revocation endpoint.
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// DefaultTimeout bounds every call to the token endpoint.
const DefaultTimeout = 10 * time.Second

var (
	// ErrInvalidGrant means Google rejected the authorization code or refresh token.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrRejected means the token endpoint refused the request for another
	// client-side reason, e.g. a misconfigured OAuth client.
	ErrRejected = errors.New("token request rejected")

	// ErrUnavailable covers timeouts, network failures, server errors and an
	// open circuit breaker.
	ErrUnavailable = errors.New("token endpoint unavailable")
)

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint

	// RevokeURL defaults to DefaultRevokeURL.
	RevokeURL string

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient is used for all upstream calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client wraps the OAuth 2.0 flows of one Google OAuth client.
type Client struct {
	oauth      oauth2.Config
	revokeURL  string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*oauth2.Token]
	logger     *slog.Logger
}

// NewClient creates a Client from config.
func NewClient(config Config) *Client {
	if config.Endpoint.TokenURL == "" {
		config.Endpoint = google.Endpoint
	}
	if config.RevokeURL == "" {
		config.RevokeURL = DefaultRevokeURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With(slog.String("component", "google-oauth"))

	return &Client{
		oauth: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     config.Endpoint,
		},
		revokeURL:  config.RevokeURL,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
		breaker:    newBreaker(logger),
		logger:     logger,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker[*oauth2.Token] {
	return gobreaker.NewCircuitBreaker[*oauth2.Token](gobreaker.Settings{
		Name:        "google-token-endpoint",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		// Rejected grants are answers, not endpoint failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidGrant) || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// AuthCodeURL returns the consent page URL requesting scopes with offline
// access, so that a refresh token is always issued.
func (c *Client) AuthCodeURL(state string, scopes []string) string {
	cfg := c.oauth
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for a token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.call(ctx, "exchange", func(ctx context.Context) (*oauth2.Token, error) {
		return c.oauth.Exchange(ctx, code)
	})
}

// Refresh obtains a new access token for refreshToken.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token available", ErrInvalidGrant)
	}
	return c.call(ctx, "refresh", func(ctx context.Context) (*oauth2.Token, error) {
		return c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
}

func (c *Client) call(ctx context.Context, op string, fn func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.breaker.Execute(func() (*oauth2.Token, error) {
		tok, err := fn(ctx)
		if err != nil {
			return nil, classify(ctx, err)
		}
		return tok, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		c.logger.Debug("token request failed", logging.Operation(op), logging.Err(err))
		return nil, err
	}
	return tok, nil
}

// classify maps oauth2 errors onto the package sentinels.
func classify(ctx context.Context, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case re.ErrorCode == "invalid_grant":
			return fmt.Errorf("%w: %s", ErrInvalidGrant, describe(re))
		case status >= 400 && status < 500:
			return fmt.Errorf("%w: %s", ErrRejected, describe(re))
		}
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func describe(re *oauth2.RetrieveError) string {
	if re.ErrorDescription != "" {
		return re.ErrorCode + ": " + re.ErrorDescription
	}
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	return "rejected"
}

// Revoke revokes token (access or refresh) at Google.
func (c *Client) Revoke(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: revoke returned status %d", ErrUnavailable, resp.StatusCode)
	default:
		// Already revoked or expired tokens answer 400.
		return fmt.Errorf("%w: revoke returned status %d", ErrRejected, resp.StatusCode)
	}
}

// HTTPClient returns an HTTP client authorizing requests with ts.
func (c *Client) HTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), ts)
}

// GrantedScopes returns the scopes Google reports for tok, or nil when the
// response carried none.
func GrantedScopes(tok *oauth2.Token) []string {
	if s, ok := tok.Extra("scope").(string); ok {
		return ParseScopes(s)
	}
	return nil
}
