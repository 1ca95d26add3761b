package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, err := c.Get(ctx, "inventory:all")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "inventory:all", []byte(`{"count":2}`), time.Minute))

	got, err := c.Get(ctx, "inventory:all")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"count":2}`), got)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheGetOrSet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	calls := 0
	compute := func() ([]byte, error) {
		calls++
		return []byte("snapshot"), nil
	}

	got, err := c.GetOrSet(ctx, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), got)

	// Second call is served from cache; the compute fn is not re-run.
	got, err = c.GetOrSet(ctx, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), got)
	assert.Equal(t, 1, calls)
}

func TestMemoryCacheGetOrSetComputeError(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	computeErr := errors.New("upstream down")
	_, err := c.GetOrSet(ctx, "k", time.Minute, func() ([]byte, error) {
		return nil, computeErr
	})
	assert.ErrorIs(t, err, computeErr)

	// A failed compute must not poison the key.
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, c.Delete(ctx, "a"))
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Clear(ctx))
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheValueIsolation(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	src := []byte("original")
	require.NoError(t, c.Set(ctx, "k", src, time.Minute))
	src[0] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	// Mutating a returned value must not corrupt the cached copy.
	got[0] = 'Y'
	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}
