package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusMined    TransactionStatus = "MINED"
	StatusReverted TransactionStatus = "REVERTED"
	StatusTimeout  TransactionStatus = "TIMEOUT"
)

// ConstructorFunction is the function name recorded for contract deployments.
const ConstructorFunction = "constructor"

// TransactionRecord is what the engine hands to the record store once a
// transaction has been submitted and (normally) included in a block.
type TransactionRecord struct {
	ID              uuid.UUID         `json:"id"`
	TxHash          string            `json:"tx_hash"`
	Gasless         bool              `json:"gasless"`
	ContractAddress string            `json:"contract_address"`
	FunctionName    string            `json:"function_name"`
	Args            json.RawMessage   `json:"args"`
	WalletID        string            `json:"wallet_id"`
	WalletAddress   string            `json:"wallet_address"`
	ChainName       string            `json:"chain_name"`
	ChainID         int64             `json:"chain_id"`
	Status          TransactionStatus `json:"status"`
	BlockNumber     *uint64           `json:"block_number,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
