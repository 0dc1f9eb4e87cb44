package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vultisig/txengine/internal/types"
)

func (p *PostgresBackend) GetContract(ctx context.Context, id uuid.UUID) (*types.ContractRecord, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	query := `SELECT id, chain_name, address, abi, gasless, forwarder, created_at
	FROM contracts
	WHERE id = $1`

	var c types.ContractRecord
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.ChainName,
		&c.Address,
		&c.ABI,
		&c.Gasless,
		&c.Forwarder,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewTransactionError(types.CodeContractNotFound, err, "contract %s not found", id)
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return &c, nil
}

func (p *PostgresBackend) CreateContract(ctx context.Context, contract types.ContractRecord) (*types.ContractRecord, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}
	if contract.ID == uuid.Nil {
		contract.ID = uuid.New()
	}
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO contracts (id, chain_name, address, abi, gasless, forwarder, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := p.pool.Exec(ctx, query,
		contract.ID,
		contract.ChainName,
		contract.Address,
		contract.ABI,
		contract.Gasless,
		contract.Forwarder,
		contract.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert contract: %w", err)
	}
	return &contract, nil
}
