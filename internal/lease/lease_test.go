package lease

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testKey(t *testing.T) string {
	return fmt.Sprintf("event-scheduler:test:%s:%d", t.Name(), time.Now().UnixNano())
}

func TestAcquireIsExclusive(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := testKey(t)
	defer client.Del(ctx, key)

	a := New(client, key, 5*time.Second)
	b := New(client, key, 5*time.Second)
	assert.NotEqual(t, a.Token(), b.Token())

	require.NoError(t, a.Acquire(ctx))
	assert.ErrorIs(t, b.Acquire(ctx), ErrHeld)

	require.NoError(t, a.Renew(ctx))
	assert.ErrorIs(t, b.Renew(ctx), ErrLost)

	require.NoError(t, b.Release(ctx))
	assert.Equal(t, a.Token(), client.Get(ctx, key).Val(), "release by a non-holder keeps the key")

	require.NoError(t, a.Release(ctx))
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Release(ctx))
}

func TestWaitAcquireAfterExpiry(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := testKey(t)
	defer client.Del(ctx, key)

	a := New(client, key, 300*time.Millisecond)
	b := New(client, key, time.Second)
	require.NoError(t, a.Acquire(ctx))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, b.WaitAcquire(ctx, 100*time.Millisecond))
	assert.Equal(t, b.Token(), client.Get(ctx, key).Val())
}

func TestKeepAliveReportsLoss(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := testKey(t)
	defer client.Del(ctx, key)

	l := New(client, key, 300*time.Millisecond)
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, client.Set(ctx, key, "someone-else", time.Minute).Err())

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	assert.ErrorIs(t, l.KeepAlive(ctx), ErrLost)
}
