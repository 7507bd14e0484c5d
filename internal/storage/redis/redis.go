// Package redis provides a storage.Store backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/teemow/sitekit/internal/storage"
)

// casScript performs compare-and-swap atomically on the server.
// ARGV: expectPresent ("0"|"1"), prev, writeNext ("0"|"1"), next.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
  if cur then return 0 end
else
  if (not cur) or cur ~= ARGV[2] then return 0 end
end
if ARGV[3] == '0' then
  redis.call('DEL', KEYS[1])
else
  redis.call('SET', KEYS[1], ARGV[4])
end
return 1
`)

// Store implements storage.Store on a Redis client. All keys are prefixed.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a Store using client. prefix is prepended to every key.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Unavailable("redis get", err)
	}
	return data, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return storage.Unavailable("redis set", err)
	}
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return storage.Unavailable("redis del", err)
	}
	return nil
}

// CompareAndSwap implements storage.Store with a Lua script.
func (s *Store) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	expect, write := "1", "1"
	if prev == nil {
		expect = "0"
	}
	if next == nil {
		write = "0"
	}

	n, err := casScript.Run(ctx, s.client, []string{s.key(key)}, expect, prev, write, next).Int()
	if err != nil {
		return false, storage.Unavailable("redis cas", err)
	}
	return n == 1, nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storage.Unavailable("redis ping", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
