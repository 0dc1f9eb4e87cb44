// Package chains is the catalogue of EVM chains the engine can transact on.
package chains

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/vultisig/txengine/config"
	"github.com/vultisig/txengine/internal/types"
)

const (
	DefaultForwarderName    = "GSNv2 Forwarder"
	DefaultForwarderVersion = "0.0.1"
)

var (
	// DefaultBoostThreshold is the price under which the supplement and the
	// +10% boost are applied.
	DefaultBoostThreshold = new(big.Int).Mul(big.NewInt(350), big.NewInt(params.GWei))
	// DefaultMaxGasPrice caps every price served by the gas oracle.
	DefaultMaxGasPrice = new(big.Int).Mul(big.NewInt(750), big.NewInt(params.GWei))
)

type Chain struct {
	Name             string
	ID               int64
	RPCURLs          []string
	GasSupplement    *big.Int
	MinGasPrice      *big.Int
	MaxGasPrice      *big.Int
	BoostThreshold   *big.Int
	Forwarder        *gcommon.Address
	ForwarderName    string
	ForwarderVersion string
	RelayerWallet    string
}

func (c *Chain) BigID() *big.Int {
	return big.NewInt(c.ID)
}

func (c *Chain) SupportsRelay() bool {
	return c.Forwarder != nil && c.RelayerWallet != ""
}

// known chains with their default gas supplements
var known = []Chain{
	{Name: "ETHEREUM", ID: 1},
	{Name: "GOERLI", ID: 5},
	{Name: "SEPOLIA", ID: 11155111},
	{Name: "OPTIMISM", ID: 10},
	{Name: "BSC", ID: 56},
	{Name: "MATIC", ID: 137, GasSupplement: gwei(30)},
	{Name: "MUMBAI", ID: 80001, GasSupplement: gwei(30)},
	{Name: "AMOY", ID: 80002, GasSupplement: gwei(30)},
	{Name: "BASE", ID: 8453},
	{Name: "ARBITRUM", ID: 42161},
	{Name: "AVALANCHE", ID: 43114, GasSupplement: gwei(2)},
	{Name: "FUJI", ID: 43113, GasSupplement: gwei(2)},
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}

// Registry is a bidirectional name <-> id lookup. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	byName map[string]*Chain
	byID   map[int64]*Chain
}

func NewRegistry(chains ...Chain) *Registry {
	r := &Registry{
		byName: make(map[string]*Chain, len(chains)),
		byID:   make(map[int64]*Chain, len(chains)),
	}
	for i := range chains {
		c := chains[i]
		if c.GasSupplement == nil {
			c.GasSupplement = big.NewInt(0)
		}
		if c.MinGasPrice == nil {
			c.MinGasPrice = big.NewInt(0)
		}
		if c.MaxGasPrice == nil {
			c.MaxGasPrice = DefaultMaxGasPrice
		}
		if c.BoostThreshold == nil {
			c.BoostThreshold = DefaultBoostThreshold
		}
		if c.ForwarderName == "" {
			c.ForwarderName = DefaultForwarderName
		}
		if c.ForwarderVersion == "" {
			c.ForwarderVersion = DefaultForwarderVersion
		}
		c.Name = strings.ToUpper(c.Name)
		r.byName[c.Name] = &c
		r.byID[c.ID] = &c
	}
	return r
}

// NewRegistryFromConfig merges configured chains over the built-in catalogue.
func NewRegistryFromConfig(cfgs []config.ChainConfig) (*Registry, error) {
	merged := make(map[int64]Chain, len(known)+len(cfgs))
	for _, c := range known {
		merged[c.ID] = c
	}
	for _, cc := range cfgs {
		c, ok := merged[cc.ChainID]
		if !ok {
			c = Chain{ID: cc.ChainID}
		}
		if cc.Name != "" {
			c.Name = cc.Name
		}
		if c.Name == "" {
			return nil, fmt.Errorf("chain %d has no name", cc.ChainID)
		}
		if len(cc.RPCURLs) > 0 {
			c.RPCURLs = cc.RPCURLs
		}
		var err error
		if c.GasSupplement, err = parseWei(cc.GasSupplementWei, c.GasSupplement); err != nil {
			return nil, fmt.Errorf("chain %s gas_supplement_wei: %w", c.Name, err)
		}
		if c.MinGasPrice, err = parseWei(cc.MinGasPriceWei, c.MinGasPrice); err != nil {
			return nil, fmt.Errorf("chain %s min_gas_price_wei: %w", c.Name, err)
		}
		if c.MaxGasPrice, err = parseWei(cc.MaxGasPriceWei, c.MaxGasPrice); err != nil {
			return nil, fmt.Errorf("chain %s max_gas_price_wei: %w", c.Name, err)
		}
		if cc.Forwarder != "" {
			if !gcommon.IsHexAddress(cc.Forwarder) {
				return nil, fmt.Errorf("chain %s: invalid forwarder address %s", c.Name, cc.Forwarder)
			}
			fwd := gcommon.HexToAddress(cc.Forwarder)
			c.Forwarder = &fwd
		}
		c.ForwarderName = cc.ForwarderName
		c.ForwarderVersion = cc.ForwarderVersion
		c.RelayerWallet = cc.RelayerWallet
		merged[c.ID] = c
	}

	ids := make([]int64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	chains := make([]Chain, 0, len(ids))
	for _, id := range ids {
		chains = append(chains, merged[id])
	}
	return NewRegistry(chains...), nil
}

func parseWei(s string, fallback *big.Int) (*big.Int, error) {
	if s == "" {
		return fallback, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

func (r *Registry) ByName(name string) (*Chain, error) {
	c, ok := r.byName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, types.NewTransactionError(types.CodeUnsupportedChain, nil, "chain %s is not supported", name)
	}
	return c, nil
}

func (r *Registry) ByID(id int64) (*Chain, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, types.NewTransactionError(types.CodeUnsupportedChain, nil, "chain id %d is not supported", id)
	}
	return c, nil
}

// Name returns the symbolic name of a chain id, or "" when unknown.
func (r *Registry) Name(id int64) string {
	if c, ok := r.byID[id]; ok {
		return c.Name
	}
	return ""
}

func (r *Registry) All() []*Chain {
	out := make([]*Chain, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
