package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vultisig/txengine/internal/types"
)

func (p *PostgresBackend) CreateTransaction(ctx context.Context, tx types.TransactionRecord) (*types.TransactionRecord, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	var blockNumber *int64
	if tx.BlockNumber != nil {
		bn := int64(*tx.BlockNumber)
		blockNumber = &bn
	}

	query := `INSERT INTO transactions
	(id, tx_hash, gasless, contract_address, function_name, args, wallet_id, wallet_address,
	 chain_name, chain_id, status, block_number, error_message, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := p.pool.Exec(ctx, query,
		tx.ID,
		tx.TxHash,
		tx.Gasless,
		tx.ContractAddress,
		tx.FunctionName,
		tx.Args,
		tx.WalletID,
		tx.WalletAddress,
		tx.ChainName,
		tx.ChainID,
		string(tx.Status),
		blockNumber,
		tx.ErrorMessage,
		tx.CreatedAt,
		tx.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return &tx, nil
}

// GetTransactions returns a wallet's transactions, newest first.
func (p *PostgresBackend) GetTransactions(ctx context.Context, walletID string, take int, skip int) ([]types.TransactionRecord, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	query := `SELECT id, tx_hash, gasless, contract_address, function_name, args, wallet_id, wallet_address,
	chain_name, chain_id, status, block_number, error_message, created_at, updated_at
	FROM transactions
	WHERE wallet_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3`

	rows, err := p.pool.Query(ctx, query, walletID, take, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []types.TransactionRecord
	for rows.Next() {
		var (
			tx          types.TransactionRecord
			status      string
			blockNumber *int64
		)
		err := rows.Scan(
			&tx.ID,
			&tx.TxHash,
			&tx.Gasless,
			&tx.ContractAddress,
			&tx.FunctionName,
			&tx.Args,
			&tx.WalletID,
			&tx.WalletAddress,
			&tx.ChainName,
			&tx.ChainID,
			&status,
			&blockNumber,
			&tx.ErrorMessage,
			&tx.CreatedAt,
			&tx.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Status = types.TransactionStatus(status)
		if blockNumber != nil {
			bn := uint64(*blockNumber)
			tx.BlockNumber = &bn
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txs, nil
}
