// Package credentials persists one OAuth credential per site user.
//
// The store is written only by the authentication manager. Every update is a
// compare-and-swap against the bytes read earlier, which is what lets a
// revocation win over a concurrent refresh.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/sitekit/internal/storage"
)

// ErrNotFound is returned when the owner has no credential.
var ErrNotFound = errors.New("credential not found")

// Credential is a Google OAuth credential bound to a site user.
type Credential struct {
	OwnerID      string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	ExpiresAt    time.Time
}

// Token converts the credential into an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.ExpiresAt,
	}
}

// ExpiresWithin reports whether the access token expires within skew of now.
// A zero expiry never expires.
func (c *Credential) ExpiresWithin(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// Expired reports whether the access token is past its expiry.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresWithin(now, 0)
}

// MissingScopes returns the entries of required not granted to the credential.
func (c *Credential) MissingScopes(required []string) []string {
	return MissingScopes(c.Scopes, required)
}

// MissingScopes returns the entries of required absent from granted, sorted.
func MissingScopes(granted, required []string) []string {
	var missing []string
	for _, s := range required {
		if !slices.Contains(granted, s) && !slices.Contains(missing, s) {
			missing = append(missing, s)
		}
	}
	slices.Sort(missing)
	return missing
}

// Record is a credential together with the stored bytes it was decoded from.
type Record struct {
	*Credential
	raw []byte
}

// record is the persisted form.
type record struct {
	OwnerID      string    `json:"owner_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scopes       []string  `json:"scopes"`
	ExpiresAt    time.Time `json:"expires_at"`
	Encrypted    bool      `json:"encrypted,omitempty"`
}

// Key is the storage key of an owner's credential.
func Key(owner string) string {
	return "credential:" + owner
}

// Store reads and writes credentials.
type Store struct {
	backend storage.Store
	cipher  *Cipher
}

// NewStore creates a Store. A nil cipher stores tokens in clear text.
func NewStore(backend storage.Store, cipher *Cipher) *Store {
	return &Store{backend: backend, cipher: cipher}
}

// Get returns the owner's credential or ErrNotFound.
func (s *Store) Get(ctx context.Context, owner string) (*Record, error) {
	raw, err := s.backend.Get(ctx, Key(owner))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cred, err := s.decode(raw)
	if err != nil {
		return nil, err
	}
	return &Record{Credential: cred, raw: raw}, nil
}

// Put creates or overwrites the owner's credential.
func (s *Store) Put(ctx context.Context, cred *Credential) error {
	raw, err := s.encode(cred)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, Key(cred.OwnerID), raw)
}

// Replace overwrites prev with cred only if the stored credential is still
// exactly prev. It reports false when prev was changed or deleted meanwhile.
func (s *Store) Replace(ctx context.Context, prev *Record, cred *Credential) (bool, error) {
	raw, err := s.encode(cred)
	if err != nil {
		return false, err
	}
	return s.backend.CompareAndSwap(ctx, Key(cred.OwnerID), prev.raw, raw)
}

// DeleteIfUnchanged removes prev only if it was not replaced meanwhile.
func (s *Store) DeleteIfUnchanged(ctx context.Context, prev *Record) (bool, error) {
	return s.backend.CompareAndSwap(ctx, Key(prev.OwnerID), prev.raw, nil)
}

// Delete removes the owner's credential. Deleting nothing is not an error.
func (s *Store) Delete(ctx context.Context, owner string) error {
	return s.backend.Delete(ctx, Key(owner))
}

func (s *Store) encode(cred *Credential) ([]byte, error) {
	access, err := s.cipher.Seal(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.cipher.Seal(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	raw, err := json.Marshal(record{
		OwnerID:      cred.OwnerID,
		AccessToken:  access,
		RefreshToken: refresh,
		Scopes:       cred.Scopes,
		ExpiresAt:    cred.ExpiresAt.UTC(),
		Encrypted:    s.cipher.Enabled(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return raw, nil
}

func (s *Store) decode(raw []byte) (*Credential, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	if r.Encrypted && !s.cipher.Enabled() {
		return nil, errors.New("credential is encrypted but no encryption key is configured")
	}

	cred := &Credential{
		OwnerID:   r.OwnerID,
		Scopes:    r.Scopes,
		ExpiresAt: r.ExpiresAt,
	}
	var err error
	if r.Encrypted {
		if cred.AccessToken, err = s.cipher.Open(r.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if cred.RefreshToken, err = s.cipher.Open(r.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	} else {
		cred.AccessToken, cred.RefreshToken = r.AccessToken, r.RefreshToken
	}
	return cred, nil
}
