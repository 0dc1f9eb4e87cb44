// Package providertest provides an in-memory chain client for tests.
package providertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	gcommon "github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vultisig/txengine/internal/chains"
	"github.com/vultisig/txengine/internal/provider"
)

var _ provider.Client = &Client{}

// Client simulates a single chain. Sent transactions are mined immediately
// unless Revert is set. Nonces are checked per sender: reusing one fails with
// "nonce too low" like a real node.
type Client struct {
	mu sync.Mutex

	ID           *big.Int
	GasPrice     *big.Int
	GasPriceErr  error
	GasPriceWait time.Duration
	Gas          uint64
	EstimateErr  error
	Revert       bool
	// HoldReceipts accepts transactions without ever mining them.
	HoldReceipts bool
	// SendErr, when set, is consulted before accepting a transaction.
	SendErr func(tx *gtypes.Transaction) error
	// CallFn answers eth_call.
	CallFn func(msg ethereum.CallMsg) ([]byte, error)

	balances   map[gcommon.Address]*big.Int
	nonces     map[gcommon.Address]uint64
	usedNonces map[gcommon.Address]map[uint64]bool
	receipts   map[gcommon.Hash]*gtypes.Receipt
	code       map[gcommon.Address][]byte
	sent       []*gtypes.Transaction
	block      uint64

	chainIDCalls  int32
	gasPriceCalls int32
	closeCalls    int32
}

func NewClient(chainID int64) *Client {
	return &Client{
		ID:         big.NewInt(chainID),
		GasPrice:   big.NewInt(1_000_000_000),
		Gas:        21000,
		balances:   make(map[gcommon.Address]*big.Int),
		nonces:     make(map[gcommon.Address]uint64),
		usedNonces: make(map[gcommon.Address]map[uint64]bool),
		receipts:   make(map[gcommon.Hash]*gtypes.Receipt),
		code:       make(map[gcommon.Address][]byte),
	}
}

// Dialer returns a provider.DialFunc that always hands out c.
func (c *Client) Dialer() provider.DialFunc {
	return func(ctx context.Context, url string) (provider.Client, error) {
		return c, nil
	}
}

// NewProvider wraps c in a provider for chain.
func (c *Client) NewProvider(chain *chains.Chain) *provider.Provider {
	return provider.NewProvider(chain, "memory://"+chain.Name, c)
}

func (c *Client) SetBalance(addr gcommon.Address, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = balance
}

func (c *Client) SetPendingNonce(addr gcommon.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[addr] = nonce
}

func (c *Client) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GasPrice = price
}

func (c *Client) Sent() []*gtypes.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*gtypes.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Client) ChainIDCalls() int {
	return int(atomic.LoadInt32(&c.chainIDCalls))
}

func (c *Client) Closed() int {
	return int(atomic.LoadInt32(&c.closeCalls))
}

func (c *Client) GasPriceCalls() int {
	return int(atomic.LoadInt32(&c.gasPriceCalls))
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	atomic.AddInt32(&c.chainIDCalls, 1)
	return new(big.Int).Set(c.ID), nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	atomic.AddInt32(&c.gasPriceCalls, 1)
	c.mu.Lock()
	wait, price, err := c.GasPriceWait, c.GasPrice, c.GasPriceErr
	c.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(price), nil
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EstimateErr != nil {
		return 0, c.EstimateErr
	}
	return c.Gas, nil
}

func (c *Client) BalanceAt(ctx context.Context, account gcommon.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// PendingNonceAt returns the highest accepted nonce + 1, or the seeded value.
func (c *Client) PendingNonceAt(ctx context.Context, account gcommon.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *gtypes.Transaction) error {
	if c.SendErr != nil {
		if err := c.SendErr(tx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := gtypes.Sender(gtypes.LatestSignerForChainID(c.ID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	used := c.usedNonces[from]
	if used == nil {
		used = make(map[uint64]bool)
		c.usedNonces[from] = used
	}
	if used[tx.Nonce()] {
		return errors.New("nonce too low")
	}
	used[tx.Nonce()] = true
	if tx.Nonce() >= c.nonces[from] {
		c.nonces[from] = tx.Nonce() + 1
	}

	c.block++
	receipt := &gtypes.Receipt{
		Status:      gtypes.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     tx.Gas(),
	}
	if c.Revert {
		receipt.Status = gtypes.ReceiptStatusFailed
	}
	if tx.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
		c.code[receipt.ContractAddress] = []byte{0x60, 0x80}
	}
	if !c.HoldReceipts {
		c.receipts[tx.Hash()] = receipt
	}
	c.sent = append(c.sent, tx)
	return nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash gcommon.Hash) (*gtypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *Client) CodeAt(ctx context.Context, account gcommon.Address, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[account], nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if c.CallFn != nil {
		return c.CallFn(msg)
	}
	return nil, errors.New("execution reverted")
}

func (c *Client) Close() {
	atomic.AddInt32(&c.closeCalls, 1)
}
