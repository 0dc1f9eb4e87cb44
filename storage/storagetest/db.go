package storagetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vultisig/txengine/internal/types"
	"github.com/vultisig/txengine/storage"
)

// MemoryDB is an in-memory storage.DatabaseStorage.
type MemoryDB struct {
	mu           sync.Mutex
	contracts    map[uuid.UUID]types.ContractRecord
	transactions []types.TransactionRecord
}

var _ storage.DatabaseStorage = &MemoryDB{}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		contracts: make(map[uuid.UUID]types.ContractRecord),
	}
}

func (m *MemoryDB) Close() error {
	return nil
}

func (m *MemoryDB) GetContract(ctx context.Context, id uuid.UUID) (*types.ContractRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, types.NewTransactionError(types.CodeContractNotFound, nil, "contract %s not found", id)
	}
	return &c, nil
}

func (m *MemoryDB) CreateContract(ctx context.Context, contract types.ContractRecord) (*types.ContractRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contract.ID == uuid.Nil {
		contract.ID = uuid.New()
	}
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = time.Now().UTC()
	}
	m.contracts[contract.ID] = contract
	return &contract, nil
}

func (m *MemoryDB) CreateTransaction(ctx context.Context, tx types.TransactionRecord) (*types.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	m.transactions = append(m.transactions, tx)
	return &tx, nil
}

func (m *MemoryDB) GetTransactions(ctx context.Context, walletID string, take int, skip int) ([]types.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.TransactionRecord
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].WalletID == walletID {
			out = append(out, m.transactions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if skip >= len(out) {
		return nil, nil
	}
	out = out[skip:]
	if take < len(out) {
		out = out[:take]
	}
	return out, nil
}

// Contracts returns every stored contract.
func (m *MemoryDB) Contracts() []types.ContractRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ContractRecord, 0, len(m.contracts))
	for _, c := range m.contracts {
		out = append(out, c)
	}
	return out
}

// Transactions returns every stored transaction in insertion order.
func (m *MemoryDB) Transactions() []types.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TransactionRecord, len(m.transactions))
	copy(out, m.transactions)
	return out
}
