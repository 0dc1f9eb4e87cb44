// Package provider manages RPC connections per chain and turns raw RPC
// failures into the engine's error taxonomy.
package provider

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	gcommon "github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/internal/chains"
	"github.com/vultisig/txengine/internal/types"
)

const validateTimeout = 5 * time.Second

// Client is the subset of *ethclient.Client the engine talks to.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account gcommon.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account gcommon.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash gcommon.Hash) (*gtypes.Receipt, error)
	CodeAt(ctx context.Context, account gcommon.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

var _ Client = &ethclient.Client{}

// DialFunc opens a client for an RPC URL.
type DialFunc func(ctx context.Context, url string) (Client, error)

func DialEthClient(ctx context.Context, url string) (Client, error) {
	return ethclient.DialContext(ctx, url)
}

// Provider is a connection to one chain through one RPC URL.
type Provider struct {
	Chain *chains.Chain
	URL   string

	client Client
	// override providers are dialed per request and owned by the caller.
	override bool

	mu      sync.Mutex
	chainID *big.Int
}

func NewProvider(chain *chains.Chain, url string, client Client) *Provider {
	return &Provider{
		Chain:  chain,
		URL:    url,
		client: client,
	}
}

// NewOverrideProvider wraps a client dialed for a single request. Close
// releases it.
func NewOverrideProvider(chain *chains.Chain, url string, client Client) *Provider {
	p := NewProvider(chain, url, client)
	p.override = true
	return p
}

func (p *Provider) Client() Client {
	return p.client
}

// IsOverride reports whether p was dialed for caller supplied URLs.
func (p *Provider) IsOverride() bool {
	return p.override
}

// Close releases an override provider's connection. Shared default providers
// stay open until Registry.Close.
func (p *Provider) Close() {
	if p == nil || !p.override {
		return
	}
	p.client.Close()
}

// Registry hands out providers. Default providers are dialed once per chain
// and shared by every caller in the process.
type Registry struct {
	chains *chains.Registry
	dial   DialFunc
	logger *logrus.Logger

	mu        sync.Mutex
	providers map[int64]*Provider
}

func NewRegistry(chainRegistry *chains.Registry, dial DialFunc, logger *logrus.Logger) *Registry {
	if dial == nil {
		dial = DialEthClient
	}
	return &Registry{
		chains:    chainRegistry,
		dial:      dial,
		logger:    logger,
		providers: make(map[int64]*Provider),
	}
}

func (r *Registry) Chains() *chains.Registry {
	return r.chains
}

// GetProvider returns the shared provider for chainName, or a fresh one on
// overrideURLs when given. Callers must Close the returned provider.
func (r *Registry) GetProvider(ctx context.Context, chainName string, overrideURLs []string) (*Provider, error) {
	chain, err := r.chains.ByName(chainName)
	if err != nil {
		return nil, err
	}
	if len(overrideURLs) > 0 {
		return r.connect(ctx, chain, overrideURLs, true)
	}
	if len(chain.RPCURLs) == 0 {
		return nil, types.NewTransactionError(types.CodeUnsupportedChain, nil,
			"chain %s has no rpc endpoint configured", chain.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[chain.ID]; ok {
		return p, nil
	}
	p, err := r.connect(ctx, chain, chain.RPCURLs, false)
	if err != nil {
		return nil, err
	}
	r.providers[chain.ID] = p
	return p, nil
}

// connect returns a provider on the first URL that dials successfully.
func (r *Registry) connect(ctx context.Context, chain *chains.Chain, urls []string, override bool) (*Provider, error) {
	var lastErr error
	for _, url := range urls {
		client, err := r.dial(ctx, url)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"chain": chain.Name,
				"url":   url,
			}).WithError(err).Warn("fail to dial rpc endpoint")
			lastErr = err
			continue
		}
		if override {
			return NewOverrideProvider(chain, url, client), nil
		}
		return NewProvider(chain, url, client), nil
	}
	return nil, NormalizeError(fmt.Errorf("no usable rpc endpoint: %w", lastErr), chain.Name)
}

// NetworkDescriptor returns the chain id reported by the endpoint, querying it
// only the first time.
func (r *Registry) NetworkDescriptor(ctx context.Context, p *Provider) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chainID != nil {
		return new(big.Int).Set(p.chainID), nil
	}
	id, err := p.client.ChainID(ctx)
	if err != nil {
		return nil, NormalizeError(err, p.Chain.Name)
	}
	p.chainID = id
	return new(big.Int).Set(id), nil
}

// IsValidRPCURL reports whether url answers with chainName's chain id. It
// never fails, any error means the URL is not usable.
func (r *Registry) IsValidRPCURL(ctx context.Context, chainName string, url string) bool {
	chain, err := r.chains.ByName(chainName)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	client, err := r.dial(ctx, url)
	if err != nil {
		return false
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"chain": chain.Name,
			"url":   url,
		}).WithError(err).Info("rpc endpoint failed validation")
		return false
	}
	return id.Cmp(chain.BigID()) == 0
}

// Close closes every cached default provider.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.providers {
		p.client.Close()
		delete(r.providers, id)
	}
}
