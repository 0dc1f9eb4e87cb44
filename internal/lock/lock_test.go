package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/txengine/internal/types"
	"github.com/vultisig/txengine/storage/storagetest"
)

func testOptions() Options {
	return Options{
		Attempts:      5,
		RetryInterval: 5 * time.Millisecond,
		TTL:           time.Second,
	}
}

func newTestCoordinator(t *testing.T) *Coordinator {
	store, _ := storagetest.NewRedisStorage(t)
	return NewCoordinator(store, logrus.New())
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	l, err := c.Acquire(ctx, "wallet", testOptions())
	require.NoError(t, err)
	assert.Equal(t, "wallet", l.Key())

	_, err = c.Acquire(ctx, "wallet", testOptions())
	assert.ErrorIs(t, err, types.ErrLockTimeout)

	require.NoError(t, l.Release(ctx))
	// idempotent
	require.NoError(t, l.Release(ctx))

	l2, err := c.Acquire(ctx, "wallet", testOptions())
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	opts := testOptions()
	opts.Attempts = 100

	l, err := c.Acquire(ctx, "wallet", opts)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = l.Release(ctx)
	}()

	l2, err := c.Acquire(ctx, "wallet", opts)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	ctx := context.Background()
	store, mr := storagetest.NewRedisStorage(t)
	c := NewCoordinator(store, logrus.New())

	old, err := c.Acquire(ctx, "wallet", testOptions())
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	current, err := c.Acquire(ctx, "wallet", testOptions())
	require.NoError(t, err)

	require.NoError(t, old.Release(ctx))

	_, err = c.Acquire(ctx, "wallet", testOptions())
	assert.ErrorIs(t, err, types.ErrLockTimeout, "old owner must not delete the new owner's lock")
	require.NoError(t, current.Release(ctx))
}

func TestWithLockReleasesOnError(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	boom := errors.New("boom")

	err := c.WithLock(ctx, "wallet", testOptions(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = c.WithLock(ctx, "wallet", testOptions(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	assert.Panics(t, func() {
		_ = c.WithLock(ctx, "wallet", testOptions(), func(ctx context.Context) error {
			panic("boom")
		})
	})

	l, err := c.Acquire(ctx, "wallet", testOptions())
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))
}

func TestWithLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	opts := testOptions()
	opts.Attempts = 1000
	opts.RetryInterval = time.Millisecond

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.WithLock(ctx, "wallet", opts, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxSeen) {
					atomic.StoreInt32(&maxSeen, n)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}
