package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vultisig/txengine/internal/types"
)

const (
	DefaultQueue = "txengine"

	TypeExecuteTransaction = "transaction:execute"
	TypeDeployContract     = "contract:deploy"
)

// ExecuteTransactionPayload is both the POST /transactions body and the
// queued task payload. Args stay JSON values until they are converted
// against the contract ABI.
type ExecuteTransactionPayload struct {
	ContractID       string                  `json:"contract_id,omitempty"`
	ChainName        string                  `json:"chain_name,omitempty"`
	ContractAddress  string                  `json:"contract_address,omitempty"`
	ABI              string                  `json:"abi,omitempty"`
	WalletID         string                  `json:"wallet_id"`
	Function         string                  `json:"function"`
	Args             []interface{}           `json:"args"`
	Value            string                  `json:"value,omitempty"`
	GasLimit         uint64                  `json:"gas_limit,omitempty"`
	AllowGasless     bool                    `json:"allow_gasless,omitempty"`
	GaslessOverrides *types.GaslessOverrides `json:"gasless_overrides,omitempty"`
	RPCOverrides     []string                `json:"rpc_overrides,omitempty"`
}

func (p ExecuteTransactionPayload) IsValid() error {
	if p.WalletID == "" {
		return fmt.Errorf("wallet_id is required")
	}
	if p.Function == "" {
		return fmt.Errorf("function is required")
	}
	if p.ContractID == "" && (p.ChainName == "" || p.ContractAddress == "" || p.ABI == "") {
		return fmt.Errorf("either contract_id or chain_name, contract_address and abi are required")
	}
	return nil
}

func (p ExecuteTransactionPayload) ToRequest(signer types.Signer) (types.ExecuteRequest, error) {
	value, err := ParseWei(p.Value)
	if err != nil {
		return types.ExecuteRequest{}, err
	}
	return types.ExecuteRequest{
		ContractID:       p.ContractID,
		ChainName:        p.ChainName,
		ContractAddress:  p.ContractAddress,
		ABI:              p.ABI,
		Signer:           signer,
		Function:         p.Function,
		Args:             p.Args,
		Value:            value,
		GasLimit:         p.GasLimit,
		AllowGasless:     p.AllowGasless,
		GaslessOverrides: p.GaslessOverrides,
		RPCOverrides:     p.RPCOverrides,
	}, nil
}

type DeployContractPayload struct {
	ChainName    string        `json:"chain_name"`
	ABI          string        `json:"abi"`
	Bytecode     hexutil.Bytes `json:"bytecode"`
	Args         []interface{} `json:"args"`
	WalletID     string        `json:"wallet_id"`
	Value        string        `json:"value,omitempty"`
	Gasless      bool          `json:"gasless,omitempty"`
	RPCOverrides []string      `json:"rpc_overrides,omitempty"`
}

func (p DeployContractPayload) IsValid() error {
	if p.WalletID == "" {
		return fmt.Errorf("wallet_id is required")
	}
	if p.ChainName == "" {
		return fmt.Errorf("chain_name is required")
	}
	if p.ABI == "" {
		return fmt.Errorf("abi is required")
	}
	if len(p.Bytecode) == 0 {
		return fmt.Errorf("bytecode is required")
	}
	return nil
}

func (p DeployContractPayload) ToRequest(signer types.Signer) (types.DeployRequest, error) {
	value, err := ParseWei(p.Value)
	if err != nil {
		return types.DeployRequest{}, err
	}
	return types.DeployRequest{
		ChainName:    p.ChainName,
		ABI:          p.ABI,
		Bytecode:     p.Bytecode,
		Args:         p.Args,
		Signer:       signer,
		Value:        value,
		Gasless:      p.Gasless,
		RPCOverrides: p.RPCOverrides,
	}, nil
}

// ParseWei parses a decimal or 0x hex wei amount; empty means none.
func ParseWei(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "invalid wei amount %q", s)
	}
	return v, nil
}

// Decode unmarshals a payload keeping JSON numbers exact, so large integer
// arguments survive the trip through the queue.
func Decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
