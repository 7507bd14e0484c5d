package options

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/sitekit/internal/storage"
	"github.com/teemow/sitekit/internal/storage/memory"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "module:analytics:settings", ModuleSettingsKey("analytics"))
	assert.Equal(t, "module:analytics:active", ModuleActiveKey("analytics"))
	assert.Equal(t, "user:7:dismissed", UserKey("7", "dismissed"))
	assert.Equal(t, "user:7:module:analytics:data:report", UserKey("7", ModuleDataKey("analytics", "report")))
}

func TestStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())

	var url string
	found, err := s.Get(ctx, SiteURLKey, &url)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, SiteURLKey, "https://example.com"))
	found, err = s.Get(ctx, SiteURLKey, &url)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://example.com", url)

	settings := map[string]any{"propertyID": "UA-1-1"}
	require.NoError(t, s.Set(ctx, ModuleSettingsKey("analytics"), settings))
	var got map[string]any
	_, err = s.Get(ctx, ModuleSettingsKey("analytics"), &got)
	require.NoError(t, err)
	assert.Equal(t, settings, got)

	require.NoError(t, s.Delete(ctx, SiteURLKey))
	found, err = s.Get(ctx, SiteURLKey, &url)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_GetCorrupt(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Set(ctx, "bad", []byte("{")))

	var v map[string]any
	_, err := New(backend).Get(ctx, "bad", &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `decode option "bad"`)
}

func TestStore_BoolSwap(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())
	key := ModuleActiveKey("search-console")

	active, raw, err := s.Bool(ctx, key)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Nil(t, raw)

	ok, err := s.SwapBool(ctx, key, raw, true)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale previous value loses
	ok, err = s.SwapBool(ctx, key, nil, true)
	require.NoError(t, err)
	assert.False(t, ok)

	active, raw, err = s.Bool(ctx, key)
	require.NoError(t, err)
	assert.True(t, active)

	ok, err = s.SwapBool(ctx, key, raw, false)
	require.NoError(t, err)
	assert.True(t, ok)

	active, _, err = s.Bool(ctx, key)
	require.NoError(t, err)
	assert.False(t, active)
}

type failingStore struct{ storage.Store }

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, storage.Unavailable("test get", errors.New("down"))
}

func TestStore_PropagatesUnavailable(t *testing.T) {
	s := New(failingStore{memory.New()})

	var v string
	_, err := s.Get(context.Background(), SiteURLKey, &v)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, _, err = s.Bool(context.Background(), ModuleActiveKey("x"))
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
