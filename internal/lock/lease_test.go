package lock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, "cron:lock:"), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	lease, err := l.Acquire(ctx, PairKey("overdue-tasks", "org-1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "cron:lock:overdue-tasks:org-1", lease.Key())
	assert.True(t, mr.Exists("cron:lock:overdue-tasks:org-1"))

	_, err = l.Acquire(ctx, PairKey("overdue-tasks", "org-1"), time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, PairKey("overdue-tasks", "org-2"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	_, err = l.Acquire(ctx, PairKey("overdue-tasks", "org-1"), time.Minute)
	require.NoError(t, err)
}

func TestLeaseExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	stale, err := l.Acquire(ctx, "tick", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)

	// The expired holder must not delete the new lease.
	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists(fresh.Key()))
}
