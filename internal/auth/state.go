package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL is how long an authorization request stays valid.
const DefaultStateTTL = 15 * time.Minute

const nonceBytes = 16

// stateClaims travel in the OAuth state parameter. The subject is the owner.
type stateClaims struct {
	Redirect string `json:"redirect,omitempty"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

func newNonce(random io.Reader) (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := io.ReadFull(random, b); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func signState(secret []byte, owner, redirect, nonce string, now time.Time, ttl time.Duration) (string, error) {
	claims := stateClaims{
		Redirect: redirect,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

func parseState(secret []byte, raw, owner string, now func() time.Time) (*stateClaims, error) {
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	if claims.Subject != owner {
		return nil, errors.New("state was issued to another user")
	}
	return claims, nil
}
