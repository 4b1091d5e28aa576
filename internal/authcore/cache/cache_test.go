package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testCaches(t *testing.T) map[string]Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Cache{
		"memory": NewMemory(),
		"redis":  NewRedis(client, "test"),
	}
}

func TestCacheGetSetClear(t *testing.T) {
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Miss is not an error.
			_, ok, err := c.Get(ctx, "absent")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
			got, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "v", got)

			require.NoError(t, c.Clear(ctx, "k"))
			_, ok, err = c.Get(ctx, "k")
			require.NoError(t, err)
			require.False(t, ok)

			// Clearing an absent key is fine.
			require.NoError(t, c.Clear(ctx, "k"))
		})
	}
}

func TestCacheOverwrite(t *testing.T) {
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, c.Set(ctx, "k", "v1", time.Minute))
			require.NoError(t, c.Set(ctx, "k", "v2", time.Minute))

			got, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "v2", got)
		})
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedis(client, "test")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedis(client, "authcore")
	require.NoError(t, c.Set(context.Background(), "lockout:a@b.c", "v", time.Minute))

	require.True(t, mr.Exists("authcore:lockout:a@b.c"))
	require.False(t, mr.Exists("lockout:a@b.c"))
}
