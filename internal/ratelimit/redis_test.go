package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_FixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	l := New(NewRedisStore(client, ""), nil, nil)
	ctx := context.Background()

	for i := 1; i <= Auth.Max; i++ {
		d, err := l.Admit(ctx, "10.0.0.1", Auth)
		require.NoError(t, err)
		assert.Equal(t, i, d.Count)
	}
	d, err := l.Admit(ctx, "10.0.0.1", Auth)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, Auth.Max, d.Count)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.ResetIn, time.Duration(0))

	stored, err := mr.Get("ratelimit:auth:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "5", stored)

	mr.FastForward(Auth.Window)
	d, err = l.Admit(ctx, "10.0.0.1", Auth)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Count)
}

func TestRedisStore_TiersIndependent(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	for i := 0; i < Auth.Max+1; i++ {
		_, _ = store.Take(ctx, Auth, "10.0.0.1")
	}
	d, err := store.Take(ctx, General, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestRedisStore_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	_, err := NewRedisStore(client, "").Take(context.Background(), Auth, "10.0.0.1")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}
