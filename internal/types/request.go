package types

import (
	"crypto/ecdsa"
	"math/big"

	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is an already decrypted wallet key.
type Signer struct {
	WalletID string
	Key      *ecdsa.PrivateKey
}

func (s Signer) Address() gcommon.Address {
	return crypto.PubkeyToAddress(s.Key.PublicKey)
}

// CallOverrides are optional per-call transaction parameters.
type CallOverrides struct {
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// ExecuteRequest asks the engine to call Function on a contract. The contract
// is either looked up by ContractID or given inline (ChainName, Address, ABI).
type ExecuteRequest struct {
	ContractID       string
	ChainName        string
	ContractAddress  string
	ABI              string
	Signer           Signer
	Function         string
	Args             []interface{}
	Value            *big.Int
	GasLimit         uint64
	AllowGasless     bool
	GaslessOverrides *GaslessOverrides
	RPCOverrides     []string
}

type DeployRequest struct {
	ChainName    string
	ABI          string
	Bytecode     []byte
	Args         []interface{}
	Signer       Signer
	Value        *big.Int
	Gasless      bool
	RPCOverrides []string
}
