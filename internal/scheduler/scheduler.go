// Package scheduler keeps the gas oracle warm so requests rarely pay for a
// cold price fetch.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/internal/gas"
	"github.com/vultisig/txengine/internal/provider"
)

const (
	DefaultSchedule = "@every 5s"
	warmTimeout     = 10 * time.Second
)

type GasWarmer struct {
	providers *provider.Registry
	oracle    *gas.Oracle
	logger    *logrus.Logger
	cron      *cron.Cron
}

func NewGasWarmer(providers *provider.Registry, oracle *gas.Oracle, logger *logrus.Logger) *GasWarmer {
	return &GasWarmer{
		providers: providers,
		oracle:    oracle,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start refreshes every configured chain on schedule (a cron expression or an
// "@every" descriptor). An empty schedule uses DefaultSchedule.
func (w *GasWarmer) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := w.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
		defer cancel()
		w.Warm(ctx)
	}); err != nil {
		return fmt.Errorf("fail to parse gas warm schedule %q, err: %w", schedule, err)
	}
	w.cron.Start()
	w.logger.WithField("schedule", schedule).Info("gas price warmer started")
	return nil
}

// Stop waits for a running refresh to finish.
func (w *GasWarmer) Stop() {
	<-w.cron.Stop().Done()
}

// Warm fetches the price of every chain that has default RPC URLs and returns
// how many succeeded. Failures are logged only.
func (w *GasWarmer) Warm(ctx context.Context) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		warmed int
	)
	for _, chain := range w.providers.Chains().All() {
		if len(chain.RPCURLs) == 0 {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p, err := w.providers.GetProvider(ctx, name, nil)
			if err == nil {
				_, err = w.oracle.GetPrice(ctx, p)
			}
			if err != nil {
				w.logger.WithField("chain", name).WithError(err).Warn("fail to warm gas price")
				return
			}
			mu.Lock()
			warmed++
			mu.Unlock()
		}(chain.Name)
	}
	wg.Wait()
	return warmed
}
