// Package storagetest holds behaviour tests every storage.Store backend must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/sitekit/internal/storage"
)

// Run exercises store against the storage.Store contract.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set get delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "k", []byte("v1")))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, s.Set(ctx, "k", []byte("v2")))
		got, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		require.NoError(t, s.Delete(ctx, "k"))
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// idempotent
		require.NoError(t, s.Delete(ctx, "k"))
	})

	t.Run("compare and swap", func(t *testing.T) {
		s := newStore(t)

		ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("a"))
		require.NoError(t, err)
		assert.True(t, ok, "create when absent")

		ok, err = s.CompareAndSwap(ctx, "k", nil, []byte("b"))
		require.NoError(t, err)
		assert.False(t, ok, "create must fail when present")

		ok, err = s.CompareAndSwap(ctx, "k", []byte("x"), []byte("b"))
		require.NoError(t, err)
		assert.False(t, ok, "mismatched previous value")

		ok, err = s.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"))
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), got)

		ok, err = s.CompareAndSwap(ctx, "k", []byte("b"), nil)
		require.NoError(t, err)
		assert.True(t, ok, "delete on match")
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		ok, err = s.CompareAndSwap(ctx, "k", []byte("b"), []byte("c"))
		require.NoError(t, err)
		assert.False(t, ok, "swap on absent key with non-nil previous value")
	})

	t.Run("concurrent create has one winner", func(t *testing.T) {
		s := newStore(t)

		const writers = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.CompareAndSwap(ctx, "race", nil, []byte("1"))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}
