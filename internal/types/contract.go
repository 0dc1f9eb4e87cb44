package types

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ContractRecord is a deployed contract known to the record store.
type ContractRecord struct {
	ID        uuid.UUID `json:"id"`
	ChainName string    `json:"chain_name"`
	Address   string    `json:"address"`
	ABI       string    `json:"abi"`
	Gasless   bool      `json:"gasless"`
	Forwarder string    `json:"forwarder,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Contract is a resolved, callable contract: address plus parsed ABI.
type Contract struct {
	Address   gcommon.Address
	ABI       abi.ABI
	Gasless   bool
	Forwarder *gcommon.Address
}

func (c ContractRecord) Contract() (*Contract, error) {
	return ParseContract(c.Address, c.ABI)
}

func ParseContract(address string, abiJSON string) (*Contract, error) {
	if !gcommon.IsHexAddress(address) {
		return nil, NewTransactionError(CodeInvalidAddressOrArgs, nil, "invalid contract address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, NewTransactionError(CodeInvalidAddressOrArgs, err, "invalid contract abi: %v", err)
	}
	return &Contract{
		Address: gcommon.HexToAddress(address),
		ABI:     parsed,
	}, nil
}

// Pack encodes a call to method with args, mapping ABI errors into the
// InvalidAddressOrArgs taxonomy.
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	if _, ok := c.ABI.Methods[method]; !ok {
		return nil, NewTransactionError(CodeInvalidAddressOrArgs, nil, "function %s not found in contract abi", method)
	}
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, NewTransactionError(CodeInvalidAddressOrArgs, err, "fail to encode %s arguments: %v", method, err)
	}
	return data, nil
}
