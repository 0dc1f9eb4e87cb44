// Package lock implements cross-process mutual exclusion on top of the shared
// keyed store. Locks are plain keys written with SET NX and a TTL; a holder
// that crashes is recovered by TTL expiry.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/contexthelper"
	"github.com/vultisig/txengine/internal/types"
	"github.com/vultisig/txengine/storage"
)

const (
	keyPrefix      = "lock:"
	releaseTimeout = 5 * time.Second
)

var errLockBusy = errors.New("lock is held by another owner")

type Options struct {
	// Attempts is the total number of SET NX tries, including the first.
	Attempts      int
	RetryInterval time.Duration
	TTL           time.Duration
}

// DefaultOptions suits short general purpose critical sections, about 1s of
// waiting in total.
func DefaultOptions() Options {
	return Options{
		Attempts:      10,
		RetryInterval: 100 * time.Millisecond,
		TTL:           10 * time.Second,
	}
}

// NonceOptions waits up to 30s, nonce locks guard chain submission and may
// queue behind many concurrent requests for the same wallet.
func NonceOptions() Options {
	return Options{
		Attempts:      300,
		RetryInterval: 100 * time.Millisecond,
		TTL:           10 * time.Second,
	}
}

type Coordinator struct {
	store  storage.KeyedStore
	logger *logrus.Logger
}

func NewCoordinator(store storage.KeyedStore, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: logger,
	}
}

// Lock is a held lock. Release is idempotent.
type Lock struct {
	coordinator *Coordinator
	key         string
	token       string
	released    bool
}

func (l *Lock) Key() string {
	return l.key
}

// Acquire tries to take key until opts.Attempts is exhausted, then fails with
// a LockTimeout error.
func (c *Coordinator) Acquire(ctx context.Context, key string, opts Options) (*Lock, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	storeKey := keyPrefix + key
	token := uuid.NewString()
	attempts := 0

	backoff := retry.WithMaxRetries(uint64(opts.Attempts-1), retry.NewConstant(opts.RetryInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		ok, err := c.store.SetNX(ctx, storeKey, token, opts.TTL)
		if err != nil {
			return fmt.Errorf("fail to acquire lock %s: %w", key, err)
		}
		if !ok {
			return retry.RetryableError(errLockBusy)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockBusy) {
			c.logger.WithFields(logrus.Fields{
				"key":      key,
				"attempts": attempts,
			}).Warn("timed out acquiring lock")
			return nil, types.NewTransactionError(types.CodeLockTimeout, err,
				"timed out acquiring lock %s after %d attempts", key, attempts)
		}
		return nil, err
	}

	return &Lock{
		coordinator: c,
		key:         key,
		token:       token,
	}, nil
}

// Release deletes the lock key if this lock still owns it. It runs on a
// detached context so a cancelled request still releases its lock.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.released {
		return nil
	}
	l.released = true

	ctx, cancel := contexthelper.Detached(ctx, releaseTimeout)
	defer cancel()
	deleted, err := l.coordinator.store.DeleteIfValue(ctx, keyPrefix+l.key, l.token)
	if err != nil {
		return fmt.Errorf("fail to release lock %s: %w", l.key, err)
	}
	if !deleted {
		l.coordinator.logger.WithField("key", l.key).Warn("lock expired before release")
	}
	return nil
}

// WithLock runs fn while holding key. The lock is released on every exit
// path, panics included; fn's error is returned unchanged.
func (c *Coordinator) WithLock(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) (err error) {
	lock, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			c.logger.WithError(releaseErr).WithField("key", key).Error("fail to release lock")
		}
	}()
	return fn(ctx)
}
