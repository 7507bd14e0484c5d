package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_RoundTrip(t *testing.T) {
	secret := []byte("state-secret")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	raw, err := signState(secret, "user-1", "/dashboard", "abc", now, DefaultStateTTL)
	require.NoError(t, err)

	claims, err := parseState(secret, raw, "user-1", func() time.Time { return now.Add(time.Minute) })
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", claims.Redirect)
	assert.Equal(t, "abc", claims.Nonce)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestState_Rejected(t *testing.T) {
	secret := []byte("state-secret")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, err := signState(secret, "user-1", "", "abc", now, DefaultStateTTL)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret []byte
		raw    string
		owner  string
		at     time.Time
	}{
		{name: "wrong owner", secret: secret, raw: raw, owner: "user-2", at: now},
		{name: "expired", secret: secret, raw: raw, owner: "user-1", at: now.Add(DefaultStateTTL + time.Second)},
		{name: "wrong secret", secret: []byte("other"), raw: raw, owner: "user-1", at: now},
		{name: "garbage", secret: secret, raw: "not-a-token", owner: "user-1", at: now},
		{name: "empty", secret: secret, raw: "", owner: "user-1", at: now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseState(tt.secret, tt.raw, tt.owner, func() time.Time { return tt.at })
			assert.Error(t, err)
		})
	}
}

func TestNewNonce(t *testing.T) {
	a, err := newNonce(zeroReader{})
	require.NoError(t, err)
	assert.Len(t, a, nonceBytes*2)

	_, err = newNonce(failingReader{})
	assert.Error(t, err)
}
