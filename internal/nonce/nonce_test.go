package nonce

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/txengine/internal/chains"
	"github.com/vultisig/txengine/internal/lock"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/provider/providertest"
	"github.com/vultisig/txengine/internal/types"
	"github.com/vultisig/txengine/storage/storagetest"
)

var wallet = gcommon.HexToAddress("0xABC")

type fixture struct {
	coordinator *Coordinator
	mr          *miniredis.Miniredis
	client      *providertest.Client
	provider    *provider.Provider
}

func newFixture(t *testing.T, liveNonce uint64) *fixture {
	t.Helper()
	store, mr := storagetest.NewRedisStorage(t)
	logger := logrus.New()
	opts := Options{
		Lock: lock.Options{
			Attempts:      500,
			RetryInterval: 5 * time.Millisecond,
			TTL:           10 * time.Second,
		},
	}
	coordinator := NewCoordinator(lock.NewCoordinator(store, logger), store, opts, logger)

	chain, err := chains.NewRegistry(chains.Chain{Name: "MATIC", ID: 137}).ByName("MATIC")
	require.NoError(t, err)
	client := providertest.NewClient(137)
	client.SetPendingNonce(wallet, liveNonce)

	return &fixture{
		coordinator: coordinator,
		mr:          mr,
		client:      client,
		provider:    client.NewProvider(chain),
	}
}

func (f *fixture) lease(t *testing.T, fnErr error) (uint64, error) {
	t.Helper()
	var got uint64
	err := f.coordinator.WithLeasedNonce(context.Background(), f.provider, wallet, false, func(ctx context.Context, n uint64) error {
		got = n
		return fnErr
	})
	return got, err
}

func TestLeaseFromLiveCount(t *testing.T) {
	f := newFixture(t, 7)

	n, err := f.lease(t, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	counter, err := f.mr.Get(counterKey(137, wallet))
	require.NoError(t, err)
	assert.Equal(t, "8", counter)
	assert.True(t, f.mr.Exists(usedKey(137, wallet, 7)))
	assert.Equal(t, 2*time.Minute, f.mr.TTL(counterKey(137, wallet)))
	assert.Equal(t, time.Minute, f.mr.TTL(usedKey(137, wallet, 7)))
	assert.False(t, f.mr.Exists("lock:"+lockKey(137, wallet)), "lock released")

	n, err = f.lease(t, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)
}

func TestConcurrentLeasesAreContiguous(t *testing.T) {
	f := newFixture(t, 7)
	const workers = 20

	var mu sync.Mutex
	var got []uint64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.coordinator.WithLeasedNonce(context.Background(), f.provider, wallet, false, func(ctx context.Context, n uint64) error {
				mu.Lock()
				got = append(got, n)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, got, workers)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, n := range got {
		assert.Equal(t, uint64(7+i), n)
	}
}

func TestFailedLeaseIsRegranted(t *testing.T) {
	f := newFixture(t, 7)
	boom := errors.New("boom")

	n, err := f.lease(t, boom)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(7), n)
	assert.False(t, f.mr.Exists(usedKey(137, wallet, 7)))
	counter, err := f.mr.Get(counterKey(137, wallet))
	require.NoError(t, err)
	assert.Equal(t, "7", counter)

	n, err = f.lease(t, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
}

func TestRollbackSkipsNoncesStillInUse(t *testing.T) {
	f := newFixture(t, 7)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- f.coordinator.WithLeasedNonce(ctx, f.provider, wallet, false, func(ctx context.Context, n uint64) error {
			close(started)
			<-release
			return errors.New("send failed")
		})
	}()
	<-started

	n, err := f.lease(t, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)

	close(release)
	require.Error(t, <-done)

	n, err = f.lease(t, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n, "failed nonce handed out again")

	n, err = f.lease(t, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n, "8 is still marked used")
}

func TestNonceExpiredIsNotRolledBack(t *testing.T) {
	f := newFixture(t, 7)
	expired := types.NewTransactionError(types.CodeNonceExpired, errors.New("nonce too low"), "nonce has already been used")

	_, err := f.lease(t, expired)
	assert.ErrorIs(t, err, types.ErrNonceExpired)
	assert.True(t, f.mr.Exists(usedKey(137, wallet, 7)))
	counter, err := f.mr.Get(counterKey(137, wallet))
	require.NoError(t, err)
	assert.Equal(t, "8", counter)
}

func TestRollbackNeverRaisesCounter(t *testing.T) {
	f := newFixture(t, 7)

	_, err := f.lease(t, nil)
	require.NoError(t, err)
	// the counter expired and a later lease restarted lower
	require.NoError(t, f.mr.Set(counterKey(137, wallet), "5"))

	f.coordinator.rollback(context.Background(), 137, wallet, 7)
	counter, err := f.mr.Get(counterKey(137, wallet))
	require.NoError(t, err)
	assert.Equal(t, "5", counter)
}

func TestMalformedCounterFallsBackToLive(t *testing.T) {
	f := newFixture(t, 7)
	require.NoError(t, f.mr.Set(counterKey(137, wallet), "not-a-number"))

	n, err := f.lease(t, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
}

func TestUseLiveCountIgnoresCounter(t *testing.T) {
	f := newFixture(t, 7)
	require.NoError(t, f.mr.Set(counterKey(137, wallet), "42"))

	var got uint64
	err := f.coordinator.WithLeasedNonce(context.Background(), f.provider, wallet, true, func(ctx context.Context, n uint64) error {
		got = n
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)
}

func TestLeaseLockTimeout(t *testing.T) {
	f := newFixture(t, 7)
	f.coordinator.opts.Lock.Attempts = 3
	require.NoError(t, f.mr.Set("lock:"+lockKey(137, wallet), "someone-else"))

	called := false
	err := f.coordinator.WithLeasedNonce(context.Background(), f.provider, wallet, false, func(ctx context.Context, n uint64) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, types.ErrLockTimeout)
	assert.False(t, called)
}

func TestKeysAreCaseInsensitive(t *testing.T) {
	lower := gcommon.HexToAddress("0x00000000000000000000000000000000000000ab")
	assert.Equal(t, "nonce:137:0x00000000000000000000000000000000000000ab", lockKey(137, lower))
	assert.Equal(t, "nonce:next:137:0x00000000000000000000000000000000000000ab", counterKey(137, lower))
	assert.Equal(t, "nonce:used:137:0x00000000000000000000000000000000000000ab:3", usedKey(137, lower, 3))
}
