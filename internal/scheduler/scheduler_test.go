package scheduler

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/txengine/internal/chains"
	"github.com/vultisig/txengine/internal/gas"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/provider/providertest"
)

func TestWarmSkipsChainsWithoutEndpoints(t *testing.T) {
	logger := logrus.New()
	client := providertest.NewClient(137)
	client.SetGasPrice(big.NewInt(40))
	registry := provider.NewRegistry(chains.NewRegistry(
		chains.Chain{Name: "MATIC", ID: 137, RPCURLs: []string{"memory://matic"}},
		chains.Chain{Name: "BSC", ID: 56},
	), client.Dialer(), logger)
	oracle := gas.NewOracle(gas.Options{}, logger)
	w := NewGasWarmer(registry, oracle, logger)

	assert.Equal(t, 1, w.Warm(context.Background()))
	assert.Equal(t, 1, client.GasPriceCalls())

	// cached now, no extra rpc call
	p, err := registry.GetProvider(context.Background(), "MATIC", nil)
	require.NoError(t, err)
	price, err := oracle.GetPrice(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(44), price.Int64())
	assert.Equal(t, 1, client.GasPriceCalls())
}

func TestWarmFailureIsNotFatal(t *testing.T) {
	logger := logrus.New()
	client := providertest.NewClient(137)
	client.GasPriceErr = errors.New("connection refused")
	registry := provider.NewRegistry(chains.NewRegistry(
		chains.Chain{Name: "MATIC", ID: 137, RPCURLs: []string{"memory://matic"}},
	), client.Dialer(), logger)
	w := NewGasWarmer(registry, gas.NewOracle(gas.Options{}, logger), logger)

	assert.Equal(t, 0, w.Warm(context.Background()))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	logger := logrus.New()
	registry := provider.NewRegistry(chains.NewRegistry(), providertest.NewClient(1).Dialer(), logger)
	w := NewGasWarmer(registry, gas.NewOracle(gas.Options{}, logger), logger)

	assert.Error(t, w.Start("not a schedule"))
	require.NoError(t, w.Start("@every 1h"))
	w.Stop()
}
