package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

// newTokenServer answers token requests with handler and revocations with revokeStatus.
func newTokenServer(t *testing.T, handler http.HandlerFunc, revokeStatus int) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		handler(w, r)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("token"))
		w.WriteHeader(revokeStatus)
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) client(timeout time.Duration) *Client {
	return NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://example.com/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RevokeURL: ts.URL + "/revoke",
		Timeout:   timeout,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_AuthCodeURL(t *testing.T) {
	c := NewClient(Config{ClientID: "cid", RedirectURL: "https://example.com/cb"})

	raw := c.AuthCodeURL("state-token", []string{ScopeOpenID, ScopeUserEmail})
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "state-token", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, ScopeOpenID+" "+ScopeUserEmail, q.Get("scope"))
	assert.Equal(t, "https://example.com/cb", q.Get("redirect_uri"))
}

func TestClient_Exchange(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "openid https://www.googleapis.com/auth/analytics.readonly",
		})
	}, http.StatusOK)

	tok, err := ts.client(time.Second).Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, []string{"openid", "https://www.googleapis.com/auth/analytics.readonly"}, GrantedScopes(tok))
}

func TestClient_Refresh(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt", r.PostForm.Get("refresh_token"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "at-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}, http.StatusOK)

	tok, err := ts.client(time.Second).Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
	assert.Nil(t, GrantedScopes(tok))
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "invalid grant",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Bad Request"})
			},
			want: ErrInvalidGrant,
		},
		{
			name: "invalid client",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			},
			want: ErrRejected,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backend"})
			},
			want: ErrUnavailable,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, tt.handler, http.StatusOK)
			c := ts.client(100 * time.Millisecond)

			_, err := c.Exchange(context.Background(), "code")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			_, err = c.Refresh(context.Background(), "rt")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_RefreshWithoutToken(t *testing.T) {
	ts := newTokenServer(t, func(http.ResponseWriter, *http.Request) {
		t.Error("token endpoint must not be called")
	}, http.StatusOK)

	_, err := ts.client(time.Second).Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
	}, http.StatusOK)
	c := ts.client(time.Second)

	for i := 0; i < 5; i++ {
		_, err := c.Refresh(context.Background(), "rt")
		require.ErrorIs(t, err, ErrUnavailable)
	}
	before := ts.calls.Load()

	_, err := c.Refresh(context.Background(), "rt")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, before, ts.calls.Load(), "open breaker must not reach the endpoint")
}

func TestClient_InvalidGrantDoesNotTripBreaker(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	}, http.StatusOK)
	c := ts.client(time.Second)

	for i := 0; i < 10; i++ {
		_, err := c.Refresh(context.Background(), "rt")
		require.ErrorIs(t, err, ErrInvalidGrant)
	}
	assert.Equal(t, int32(10), ts.calls.Load())
}

func TestClient_Revoke(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"ok", http.StatusOK, nil},
		{"already revoked", http.StatusBadRequest, ErrRejected},
		{"server error", http.StatusBadGateway, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, nil, tt.status)
			err := ts.client(time.Second).Revoke(context.Background(), "rt")
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_HTTPClient(t *testing.T) {
	var auth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	c := NewClient(Config{})
	hc := c.HTTPClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at", TokenType: "Bearer"}))

	resp, err := hc.Get(api.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "Bearer at", auth)
}

func TestParseScopes(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseScopes(" a  b "))
	assert.Empty(t, ParseScopes(""))
}
