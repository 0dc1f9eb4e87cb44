package service

import (
	"context"
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/config"
	"github.com/vultisig/txengine/internal/chains"
	"github.com/vultisig/txengine/internal/gas"
	"github.com/vultisig/txengine/internal/lock"
	"github.com/vultisig/txengine/internal/metatx"
	"github.com/vultisig/txengine/internal/nonce"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/scheduler"
	"github.com/vultisig/txengine/storage"
	"github.com/vultisig/txengine/storage/postgres"
)

// Engine owns the long lived connections behind a TransactionService.
type Engine struct {
	*TransactionService
	redis     *storage.RedisStorage
	db        *postgres.PostgresBackend
	providers *provider.Registry
	warmer    *scheduler.GasWarmer
	schedule  string
}

// NewEngineFromConfig connects redis and postgres, runs migrations and wires
// every coordinator the transaction service needs.
func NewEngineFromConfig(ctx context.Context, cfg *config.Config, sdClient statsd.ClientInterface, logger *logrus.Logger) (*Engine, error) {
	chainRegistry, err := chains.NewRegistryFromConfig(cfg.Chains)
	if err != nil {
		return nil, fmt.Errorf("fail to load chains, err: %w", err)
	}
	redisStorage, err := storage.NewRedisStorage(*cfg)
	if err != nil {
		return nil, fmt.Errorf("fail to connect redis, err: %w", err)
	}
	db, err := postgres.NewPostgresBackend(ctx, cfg.Database.DSN)
	if err != nil {
		_ = redisStorage.Close()
		return nil, fmt.Errorf("fail to connect database, err: %w", err)
	}
	keys, err := NewStaticKeyResolver(cfg.Wallets)
	if err != nil {
		_ = redisStorage.Close()
		_ = db.Close()
		return nil, fmt.Errorf("fail to load wallets, err: %w", err)
	}

	providers := provider.NewRegistry(chainRegistry, provider.DialEthClient, logger)
	oracle := gas.NewOracle(gas.Options{
		RefreshInterval: cfg.Engine.GasRefreshInterval,
		FetchTimeout:    cfg.Engine.GasFetchTimeout,
	}, logger)
	locks := lock.NewCoordinator(redisStorage, logger)
	nonces := nonce.NewCoordinator(locks, redisStorage, nonce.Options{
		Lock: lock.Options{
			Attempts:      cfg.Engine.NonceLockAttempts,
			RetryInterval: cfg.Engine.LockRetryInterval,
			TTL:           cfg.Engine.LockTTL,
		},
		CounterTTL: cfg.Engine.NonceCounterTTL,
		UsedTTL:    cfg.Engine.NonceUsedTTL,
	}, logger)

	svc, err := NewTransactionService(providers, oracle, nonces, metatx.NewBuilder(oracle, logger),
		db, keys, sdClient, cfg.Engine.ConfirmationTimeout, logger)
	if err != nil {
		_ = redisStorage.Close()
		_ = db.Close()
		return nil, err
	}
	return &Engine{
		TransactionService: svc,
		redis:              redisStorage,
		db:                 db,
		providers:          providers,
		warmer:             scheduler.NewGasWarmer(providers, oracle, logger),
		schedule:           cfg.Engine.GasWarmSchedule,
	}, nil
}

// StartGasWarmer keeps configured chains' gas prices fresh in the background.
func (e *Engine) StartGasWarmer() error {
	return e.warmer.Start(e.schedule)
}

func (e *Engine) Close() {
	e.warmer.Stop()
	e.providers.Close()
	if err := e.db.Close(); err != nil {
		e.logger.WithError(err).Error("fail to close database")
	}
	if err := e.redis.Close(); err != nil {
		e.logger.WithError(err).Error("fail to close redis")
	}
}

// NewStatsdClient returns a no-op client when no datadog host is configured.
func NewStatsdClient(cfg *config.Config) (statsd.ClientInterface, error) {
	if cfg.Datadog.Host == "" {
		return &statsd.NoOpClient{}, nil
	}
	client, err := statsd.New(cfg.Datadog.Host + ":" + cfg.Datadog.Port)
	if err != nil {
		return nil, fmt.Errorf("fail to create statsd client, err: %w", err)
	}
	return client, nil
}
