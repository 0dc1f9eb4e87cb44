package metatx

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gcommon "github.com/ethereum/go-ethereum/common"

	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/types"
)

const forwarderABIJSON = `[
	{
		"type": "function",
		"name": "execute",
		"stateMutability": "payable",
		"inputs": [
			{
				"name": "req",
				"type": "tuple",
				"components": [
					{"name": "from", "type": "address"},
					{"name": "to", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "gas", "type": "uint256"},
					{"name": "nonce", "type": "uint256"},
					{"name": "data", "type": "bytes"}
				]
			},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [
			{"name": "success", "type": "bool"},
			{"name": "ret", "type": "bytes"}
		]
	}
]`

const recipientABIJSON = `[
	{
		"type": "function",
		"name": "isTrustedForwarder",
		"stateMutability": "view",
		"inputs": [{"name": "forwarder", "type": "address"}],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`

var (
	forwarderABI = mustParseABI(forwarderABIJSON)
	recipientABI = mustParseABI(recipientABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ExecuteCalldata packs the forwarder's execute(req, signature) call for a
// signed request.
func ExecuteCalldata(signed *types.SignedForwardRequest) ([]byte, error) {
	req := signed.Request
	data, err := forwarderABI.Pack("execute", req, []byte(signed.Signature))
	if err != nil {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, err, "fail to encode forwarder call: %v", err)
	}
	return data, nil
}

// IsTrustedForwarder asks contract whether it accepts calls relayed through
// forwarder. Contracts without the method report false.
func IsTrustedForwarder(ctx context.Context, p *provider.Provider, contract gcommon.Address, forwarder gcommon.Address) (bool, error) {
	input, err := recipientABI.Pack("isTrustedForwarder", forwarder)
	if err != nil {
		return false, fmt.Errorf("fail to pack isTrustedForwarder, err: %w", err)
	}
	out, err := p.Client().CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		normalized := provider.NormalizeError(err, p.Chain.Name)
		if types.ErrorCode(normalized) == types.CodeExecutionReverted {
			return false, nil
		}
		return false, normalized
	}
	values, err := recipientABI.Unpack("isTrustedForwarder", out)
	if err != nil || len(values) != 1 {
		return false, nil
	}
	trusted, _ := values[0].(bool)
	return trusted, nil
}
