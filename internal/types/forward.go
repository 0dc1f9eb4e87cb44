package types

import (
	"math/big"

	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ForwardRequest mirrors the trusted forwarder's ForwardRequest struct. Field
// order and names must match the on-chain struct, they are used both for
// EIP-712 hashing and for ABI tuple encoding.
type ForwardRequest struct {
	From  gcommon.Address `json:"from"`
	To    gcommon.Address `json:"to"`
	Value *big.Int        `json:"value"`
	Gas   *big.Int        `json:"gas"`
	Nonce *big.Int        `json:"nonce"`
	Data  []byte          `json:"data"`
}

// SignedForwardRequest is everything a relayer needs to submit a gasless call.
type SignedForwardRequest struct {
	Request   ForwardRequest           `json:"request"`
	Signature hexutil.Bytes            `json:"signature"`
	Domain    apitypes.TypedDataDomain `json:"domain"`
	Types     apitypes.Types           `json:"types"`
	Forwarder gcommon.Address          `json:"forwarder"`
}

// GaslessOverrides lets callers target forwarders that do not follow the
// default domain or type schema.
type GaslessOverrides struct {
	ForwardRequest *ForwardRequest           `json:"forward_request,omitempty"`
	Domain         *apitypes.TypedDataDomain `json:"domain,omitempty"`
	Types          apitypes.Types            `json:"types,omitempty"`
}

func (o *GaslessOverrides) IsEmpty() bool {
	return o == nil || (o.ForwardRequest == nil && o.Domain == nil && len(o.Types) == 0)
}
