package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/venue-bookings/internal/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	l := NewLocker(client)
	l.wait = 100 * time.Millisecond

	unlock, err := l.Lock(ctx, "click:BK-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Lock(ctx, "click:BK-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockBusy)

	require.NoError(t, unlock(ctx))
	unlock2, err := l.Lock(ctx, "click:BK-1", time.Minute)
	require.NoError(t, err)

	// a stale release must not drop someone else's lock
	require.NoError(t, unlock(ctx))
	_, err = l.Lock(ctx, "click:BK-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockBusy)
	require.NoError(t, unlock2(ctx))
}

func TestCounter_FixedWindow(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	c := NewCounter(client)
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := int64(1); i <= 3; i++ {
		n, err := c.Incr(ctx, "ip:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	now = now.Add(time.Minute)
	n, err := c.Incr(ctx, "ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIdempotency_FirstWriteWins(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := NewIdempotency(client)

	rec, err := store.Get(ctx, "u1:key")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Set(ctx, "u1:key", idempotency.Record{Status: 200, Body: []byte(`{"a":1}`), Fingerprint: "f1"}, time.Hour))
	require.NoError(t, store.Set(ctx, "u1:key", idempotency.Record{Status: 500, Fingerprint: "f2"}, time.Hour))

	rec, err = store.Get(ctx, "u1:key")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 200, rec.Status)
	assert.Equal(t, "f1", rec.Fingerprint)
}
