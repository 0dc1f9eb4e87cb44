// Package nonce hands out account nonces to concurrent workers. The next
// nonce per (chain, address) lives in the shared keyed store and is only
// touched while holding the address's nonce lock.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/contexthelper"
	"github.com/vultisig/txengine/internal/lock"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/types"
	"github.com/vultisig/txengine/storage"
)

const rollbackTimeout = 10 * time.Second

type Options struct {
	Lock       lock.Options
	CounterTTL time.Duration
	UsedTTL    time.Duration
}

func DefaultOptions() Options {
	return Options{
		Lock:       lock.NonceOptions(),
		CounterTTL: 2 * time.Minute,
		UsedTTL:    time.Minute,
	}
}

type Coordinator struct {
	locks  *lock.Coordinator
	store  storage.KeyedStore
	logger *logrus.Logger
	opts   Options
}

func NewCoordinator(locks *lock.Coordinator, store storage.KeyedStore, opts Options, logger *logrus.Logger) *Coordinator {
	defaults := DefaultOptions()
	if opts.Lock.Attempts <= 0 {
		opts.Lock = defaults.Lock
	}
	if opts.CounterTTL <= 0 {
		opts.CounterTTL = defaults.CounterTTL
	}
	if opts.UsedTTL <= 0 {
		opts.UsedTTL = defaults.UsedTTL
	}
	return &Coordinator{
		locks:  locks,
		store:  store,
		logger: logger,
		opts:   opts,
	}
}

func lockKey(chainID int64, address gcommon.Address) string {
	return fmt.Sprintf("nonce:%d:%s", chainID, strings.ToLower(address.Hex()))
}

func counterKey(chainID int64, address gcommon.Address) string {
	return fmt.Sprintf("nonce:next:%d:%s", chainID, strings.ToLower(address.Hex()))
}

func usedKey(chainID int64, address gcommon.Address, n uint64) string {
	return fmt.Sprintf("nonce:used:%d:%s:%d", chainID, strings.ToLower(address.Hex()), n)
}

// WithLeasedNonce reserves the next nonce for address on p's chain and calls
// fn with it outside the lock. When fn fails with anything but NonceExpired
// the nonce is handed back so the next lease reuses it. fn's error is always
// returned unchanged.
func (c *Coordinator) WithLeasedNonce(
	ctx context.Context,
	p *provider.Provider,
	address gcommon.Address,
	useLiveCount bool,
	fn func(ctx context.Context, nonce uint64) error,
) error {
	n, err := c.lease(ctx, p, address, useLiveCount)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, n)
	if fnErr == nil {
		return nil
	}
	if errors.Is(fnErr, types.ErrNonceExpired) {
		c.logger.WithFields(logrus.Fields{
			"chain":   p.Chain.Name,
			"address": address.Hex(),
			"nonce":   n,
		}).Warn("nonce already used on chain, not rolling back")
		return fnErr
	}
	c.rollback(ctx, p.Chain.ID, address, n)
	return fnErr
}

func (c *Coordinator) lease(ctx context.Context, p *provider.Provider, address gcommon.Address, useLiveCount bool) (uint64, error) {
	chainID := p.Chain.ID
	var leased uint64
	err := c.locks.WithLock(ctx, lockKey(chainID, address), c.opts.Lock, func(ctx context.Context) error {
		candidate, err := c.startingNonce(ctx, p, address, useLiveCount)
		if err != nil {
			return err
		}
		for {
			used, err := c.store.Exists(ctx, usedKey(chainID, address, candidate))
			if err != nil {
				return fmt.Errorf("fail to check nonce marker, err: %w", err)
			}
			if !used {
				break
			}
			candidate++
		}

		if err := c.store.Set(ctx, counterKey(chainID, address), strconv.FormatUint(candidate+1, 10), c.opts.CounterTTL); err != nil {
			return fmt.Errorf("fail to store nonce counter, err: %w", err)
		}
		if err := c.store.Set(ctx, usedKey(chainID, address, candidate), "1", c.opts.UsedTTL); err != nil {
			return fmt.Errorf("fail to mark nonce used, err: %w", err)
		}
		leased = candidate
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.logger.WithFields(logrus.Fields{
		"chain":   p.Chain.Name,
		"address": address.Hex(),
		"nonce":   leased,
	}).Debug("nonce leased")
	return leased, nil
}

func (c *Coordinator) startingNonce(ctx context.Context, p *provider.Provider, address gcommon.Address, useLiveCount bool) (uint64, error) {
	if !useLiveCount {
		raw, err := c.store.Get(ctx, counterKey(p.Chain.ID, address))
		switch {
		case err == nil:
			n, parseErr := strconv.ParseUint(raw, 10, 64)
			if parseErr == nil {
				return n, nil
			}
			c.logger.WithFields(logrus.Fields{
				"chain":   p.Chain.Name,
				"address": address.Hex(),
				"value":   raw,
			}).Warn("malformed nonce counter, using pending count")
		case errors.Is(err, storage.ErrNotFound):
		default:
			return 0, fmt.Errorf("fail to read nonce counter, err: %w", err)
		}
	}

	n, err := p.Client().PendingNonceAt(ctx, address)
	if err != nil {
		return 0, provider.NormalizeError(err, p.Chain.Name)
	}
	return n, nil
}

// rollback frees a nonce whose transaction never reached the chain. Failures
// here are logged only; the marker and counter expire on their own.
func (c *Coordinator) rollback(ctx context.Context, chainID int64, address gcommon.Address, n uint64) {
	ctx, cancel := contexthelper.Detached(ctx, rollbackTimeout)
	defer cancel()
	logger := c.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"address":  address.Hex(),
		"nonce":    n,
	})

	if err := c.store.Delete(ctx, usedKey(chainID, address, n)); err != nil {
		logger.WithError(err).Error("fail to delete nonce marker")
	}
	err := c.locks.WithLock(ctx, lockKey(chainID, address), c.opts.Lock, func(ctx context.Context) error {
		lowered, err := c.store.LowerTo(ctx, counterKey(chainID, address), int64(n), c.opts.CounterTTL)
		if err != nil {
			return err
		}
		if lowered {
			logger.Info("nonce counter rolled back")
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("fail to roll back nonce counter")
	}
}
