package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cubecomp/internal/ports"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	_, ok, err := c.Get(ctx, "lb:1:2")
	require.NoError(t, err)
	assert.False(t, ok, "missing key is a miss, not an error")

	require.NoError(t, c.Set(ctx, "lb:1:2", []byte("rendered"), 0))

	val, ok, err := c.Get(ctx, "lb:1:2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("rendered"), val)

	assert.True(t, mr.Exists(DefaultKeyPrefix+"lb:1:2"), "keys are namespaced")
}

func TestRedisCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "overall:1", []byte("x"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "overall:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, c.Delete(ctx, "a", "b", "missing"))
	require.NoError(t, c.Delete(ctx))

	for _, k := range []string{"a", "b"} {
		_, ok, err := c.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestRedisCache_Errors(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := newRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = c.Close() })

	mr.Close()

	_, _, err := c.Get(ctx, "k")
	require.Error(t, err)
	var cacheErr *ports.CacheError
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, "get", cacheErr.Operation)
	assert.Equal(t, "k", cacheErr.Key)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}
