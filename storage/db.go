package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/vultisig/txengine/internal/types"
)

// DatabaseStorage is the durable record store for contracts and the
// transactions the engine has submitted.
type DatabaseStorage interface {
	Close() error

	GetContract(ctx context.Context, id uuid.UUID) (*types.ContractRecord, error)
	CreateContract(ctx context.Context, contract types.ContractRecord) (*types.ContractRecord, error)

	CreateTransaction(ctx context.Context, tx types.TransactionRecord) (*types.TransactionRecord, error)
	GetTransactions(ctx context.Context, walletID string, take int, skip int) ([]types.TransactionRecord, error)
}
