// Package options stores JSON encoded site options on top of a storage.Store.
//
// Options are global to the site unless scoped to a user with UserKey.
package options

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teemow/sitekit/internal/storage"
)

// Well known option keys.
const (
	SiteURLKey = "site:url"
)

// ModuleSettingsKey is the option holding a module's settings object.
func ModuleSettingsKey(slug string) string {
	return "module:" + slug + ":settings"
}

// ModuleActiveKey is the option holding a module's activation flag.
func ModuleActiveKey(slug string) string {
	return "module:" + slug + ":active"
}

// ModuleDataKey is the option caching one datapoint of a module. It is
// combined with UserKey since responses depend on the owner's grant.
func ModuleDataKey(slug, datapoint string) string {
	return "module:" + slug + ":data:" + datapoint
}

// UserKey scopes key to a single site user.
func UserKey(owner, key string) string {
	return "user:" + owner + ":" + key
}

// Store reads and writes JSON values.
type Store struct {
	backend storage.Store
}

// New creates an options Store on backend.
func New(backend storage.Store) *Store {
	return &Store{backend: backend}
}

// Get decodes the option stored under key into v.
// It reports false without error when the option is not set.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode option %q: %w", key, err)
	}
	return true, nil
}

// Set encodes v and stores it under key.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode option %q: %w", key, err)
	}
	return s.backend.Set(ctx, key, raw)
}

// Delete removes the option.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bool reads a boolean option. Unset options read as false.
// The raw stored bytes are returned for use with SwapBool.
func (s *Store) Bool(ctx context.Context, key string) (bool, []byte, error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	var b bool
	if err := json.Unmarshal(bytes.TrimSpace(raw), &b); err != nil {
		return false, raw, fmt.Errorf("decode option %q: %w", key, err)
	}
	return b, raw, nil
}

// SwapBool writes next under key only if the stored bytes still equal prev
// (nil meaning unset). It reports whether the write happened.
func (s *Store) SwapBool(ctx context.Context, key string, prev []byte, next bool) (bool, error) {
	raw, _ := json.Marshal(next)
	return s.backend.CompareAndSwap(ctx, key, prev, raw)
}
