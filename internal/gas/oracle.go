// Package gas resolves gas prices and gas limits for outgoing transactions.
package gas

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vultisig/txengine/contexthelper"
	"github.com/vultisig/txengine/internal/chains"
	"github.com/vultisig/txengine/internal/provider"
)

const (
	DefaultRefreshInterval = 5 * time.Second
	DefaultFetchTimeout    = 3 * time.Second
)

var errZeroGasPrice = errors.New("rpc returned a zero gas price")

type Options struct {
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

type cacheEntry struct {
	price      *big.Int
	refreshing bool
	updatedAt  time.Time
}

// Oracle caches one gas price per chain. A chain's price is refreshed at most
// once per RefreshInterval; while a refresh runs, other callers keep getting
// the cached price.
type Oracle struct {
	refreshInterval time.Duration
	fetchTimeout    time.Duration
	now             func() time.Time
	logger          *logrus.Logger

	mu      sync.Mutex
	entries map[int64]*cacheEntry
	flights singleflight.Group
}

func NewOracle(opts Options, logger *logrus.Logger) *Oracle {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Oracle{
		refreshInterval: opts.RefreshInterval,
		fetchTimeout:    opts.FetchTimeout,
		now:             opts.Now,
		logger:          logger,
		entries:         make(map[int64]*cacheEntry),
	}
}

// GetPrice returns the adjusted gas price for p's chain. Refresh failures are
// logged and the stale price is served; an error is returned only when no
// price has ever been fetched for the chain. Override providers are always
// queried directly and never touch the chain's cached price.
func (o *Oracle) GetPrice(ctx context.Context, p *provider.Provider) (*big.Int, error) {
	chain := p.Chain
	if p.IsOverride() {
		_, adjusted, err := o.fetch(ctx, p)
		if err != nil {
			return nil, provider.NormalizeError(err, chain.Name)
		}
		return adjusted, nil
	}

	o.mu.Lock()
	entry, ok := o.entries[chain.ID]
	if !ok {
		entry = &cacheEntry{}
		o.entries[chain.ID] = entry
	}
	shouldRefresh := !entry.refreshing &&
		(entry.updatedAt.IsZero() || o.now().Sub(entry.updatedAt) >= o.refreshInterval)
	if shouldRefresh {
		entry.refreshing = true
	}
	cached := copyPrice(entry.price)
	o.mu.Unlock()

	// Refresh when due, or join the in-flight refresh when nothing is cached.
	if shouldRefresh || cached == nil {
		price, err := o.refresh(ctx, p)
		if err == nil {
			return price, nil
		}
		o.logger.WithFields(logrus.Fields{
			"chain": chain.Name,
			"stale": cached != nil,
		}).WithError(err).Warn("fail to refresh gas price")
		if cached == nil {
			return nil, provider.NormalizeError(err, chain.Name)
		}
	}
	return cached, nil
}

func (o *Oracle) refresh(ctx context.Context, p *provider.Provider) (*big.Int, error) {
	key := strconv.FormatInt(p.Chain.ID, 10)
	v, err, _ := o.flights.Do(key, func() (interface{}, error) {
		return o.fetchAndStore(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return copyPrice(v.(*big.Int)), nil
}

// fetchAndStore always clears the refreshing flag, and the fetch itself is
// bounded by fetchTimeout so a hung endpoint cannot wedge the flag.
func (o *Oracle) fetchAndStore(ctx context.Context, p *provider.Provider) (*big.Int, error) {
	chain := p.Chain
	raw, adjusted, err := o.fetch(ctx, p)

	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.entries[chain.ID]
	entry.refreshing = false
	if err != nil {
		return nil, err
	}
	entry.price = adjusted
	entry.updatedAt = o.now()

	o.logger.WithFields(logrus.Fields{
		"chain":    chain.Name,
		"raw":      raw.String(),
		"adjusted": adjusted.String(),
	}).Debug("gas price refreshed")
	return copyPrice(adjusted), nil
}

func (o *Oracle) fetch(ctx context.Context, p *provider.Provider) (*big.Int, *big.Int, error) {
	fetchCtx, cancel := contexthelper.Detached(ctx, o.fetchTimeout)
	defer cancel()

	raw, err := p.Client().SuggestGasPrice(fetchCtx)
	if err != nil {
		return nil, nil, err
	}
	adjusted := AdjustPrice(p.Chain, raw)
	if adjusted.Sign() == 0 {
		return raw, nil, errZeroGasPrice
	}
	return raw, adjusted, nil
}

// AdjustPrice boosts prices below the chain's threshold by the supplement
// plus 10% of the raw price, then applies the floor and the ceiling. The
// threshold is compared against the raw price. With a 10 unit supplement, 40
// becomes 40 + 10 + 4 = 54.
func AdjustPrice(chain *chains.Chain, price *big.Int) *big.Int {
	adjusted := new(big.Int).Set(price)
	if adjusted.Sign() < 0 {
		adjusted.SetInt64(0)
	}
	if adjusted.Cmp(chain.BoostThreshold) < 0 {
		boost := new(big.Int).Div(adjusted, big.NewInt(10))
		adjusted.Add(adjusted, chain.GasSupplement)
		adjusted.Add(adjusted, boost)
	}
	if chain.MinGasPrice != nil && adjusted.Cmp(chain.MinGasPrice) < 0 {
		adjusted.Set(chain.MinGasPrice)
	}
	if adjusted.Cmp(chain.MaxGasPrice) > 0 {
		adjusted.Set(chain.MaxGasPrice)
	}
	return adjusted
}

func copyPrice(p *big.Int) *big.Int {
	if p == nil {
		return nil
	}
	return new(big.Int).Set(p)
}
