package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewSheetLock(client, nil, "sheet-1", time.Minute)
	b := NewSheetLock(client, nil, "sheet-1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lock")

	require.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "released lock must be acquirable")
}

func TestRedisLockDifferentSheetsIndependent(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewSheetLock(client, nil, "sheet-1", time.Minute)
	b := NewSheetLock(client, nil, "sheet-2", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseOnlyOwn(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewSheetLock(client, nil, "sheet-1", time.Minute)
	b := NewSheetLock(client, nil, "sheet-1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// b never acquired; releasing must not free a's lock.
	require.NoError(t, b.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
