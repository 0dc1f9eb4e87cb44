// Package metatx builds and signs EIP-712 forward requests for trusted
// forwarder (meta-transaction) relays.
package metatx

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/internal/gas"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/types"
)

const primaryType = "ForwardRequest"

var maxNonce = new(big.Int).Lsh(big.NewInt(1), 256)

// DefaultTypes is the ForwardRequest schema of the GSN trusted forwarder.
func DefaultTypes() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		primaryType: {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "gas", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "data", Type: "bytes"},
		},
	}
}

type BuildRequest struct {
	Provider  *provider.Provider
	Contract  *types.Contract
	Signer    types.Signer
	Method    string
	Args      []interface{}
	Overrides *types.GaslessOverrides
}

type Builder struct {
	oracle *gas.Oracle
	logger *logrus.Logger
}

func NewBuilder(oracle *gas.Oracle, logger *logrus.Logger) *Builder {
	return &Builder{
		oracle: oracle,
		logger: logger,
	}
}

// Forwarder picks the contract's own forwarder, then the chain's.
func Forwarder(p *provider.Provider, contract *types.Contract) (gcommon.Address, error) {
	if contract != nil && contract.Forwarder != nil {
		return *contract.Forwarder, nil
	}
	if p.Chain.Forwarder != nil {
		return *p.Chain.Forwarder, nil
	}
	return gcommon.Address{}, types.NewTransactionError(types.CodeRelayUnsupported, nil,
		"no trusted forwarder configured on %s", p.Chain.Name)
}

// BuildForwardRequest encodes Method(Args) for the contract, wraps it in a
// forward request from the signer and signs its EIP-712 digest.
func (b *Builder) BuildForwardRequest(ctx context.Context, req BuildRequest) (*types.SignedForwardRequest, error) {
	forwarder, err := Forwarder(req.Provider, req.Contract)
	if err != nil {
		return nil, err
	}
	data, err := req.Contract.Pack(req.Method, req.Args...)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	from := req.Signer.Address()
	fr := types.ForwardRequest{
		From:  from,
		To:    req.Contract.Address,
		Value: big.NewInt(0),
		Nonce: nonce,
		Data:  data,
	}
	var overrides types.GaslessOverrides
	if req.Overrides != nil {
		overrides = *req.Overrides
	}
	if overrides.ForwardRequest != nil {
		fr = mergeRequest(fr, *overrides.ForwardRequest)
	}
	if fr.Gas == nil {
		// The relayer funds the value, so the wallet's balance is not checked
		// here. The relayer's own estimate of the forwarder call covers it.
		to := fr.To
		gasLimit, err := b.oracle.EstimateGas(ctx, req.Provider, ethereum.CallMsg{
			From: fr.From,
			To:   &to,
			Data: fr.Data,
		}, nil)
		if err != nil {
			return nil, err
		}
		fr.Gas = new(big.Int).SetUint64(gasLimit)
	}

	chain := req.Provider.Chain
	domain := apitypes.TypedDataDomain{
		Name:              chain.ForwarderName,
		Version:           chain.ForwarderVersion,
		ChainId:           math.NewHexOrDecimal256(chain.ID),
		VerifyingContract: forwarder.Hex(),
	}
	if overrides.Domain != nil {
		domain = mergeDomain(domain, *overrides.Domain)
		if gcommon.IsHexAddress(domain.VerifyingContract) {
			forwarder = gcommon.HexToAddress(domain.VerifyingContract)
		}
	}
	typesDef := DefaultTypes()
	for name, fields := range overrides.Types {
		typesDef[name] = fields
	}

	signed := &types.SignedForwardRequest{
		Request:   fr,
		Domain:    domain,
		Types:     typesDef,
		Forwarder: forwarder,
	}
	hash, err := Digest(signed)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, req.Signer.Key)
	if err != nil {
		return nil, fmt.Errorf("fail to sign forward request, err: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	signed.Signature = sig

	b.logger.WithFields(logrus.Fields{
		"chain":     chain.Name,
		"from":      from.Hex(),
		"to":        fr.To.Hex(),
		"forwarder": forwarder.Hex(),
		"method":    req.Method,
	}).Debug("forward request signed")
	return signed, nil
}

// Digest returns the EIP-712 hash that a forward request's signature covers.
func Digest(signed *types.SignedForwardRequest) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       signed.Types,
		PrimaryType: primaryType,
		Domain:      signed.Domain,
		Message:     message(signed.Request),
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, err, "fail to hash forward request: %v", err)
	}
	return hash, nil
}

// RecoverSigner returns the address that signed the request.
func RecoverSigner(signed *types.SignedForwardRequest) (gcommon.Address, error) {
	if len(signed.Signature) != crypto.SignatureLength {
		return gcommon.Address{}, fmt.Errorf("invalid signature length %d", len(signed.Signature))
	}
	hash, err := Digest(signed)
	if err != nil {
		return gcommon.Address{}, err
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signed.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return gcommon.Address{}, fmt.Errorf("fail to recover signer, err: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func message(fr types.ForwardRequest) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"from":  fr.From.Hex(),
		"to":    fr.To.Hex(),
		"value": bigString(fr.Value),
		"gas":   bigString(fr.Gas),
		"nonce": bigString(fr.Nonce),
		"data":  hexutil.Encode(fr.Data),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func randomNonce() (*big.Int, error) {
	n, err := rand.Int(rand.Reader, maxNonce)
	if err != nil {
		return nil, fmt.Errorf("fail to generate forward request nonce, err: %w", err)
	}
	return n, nil
}

func mergeRequest(base, o types.ForwardRequest) types.ForwardRequest {
	if o.From != (gcommon.Address{}) {
		base.From = o.From
	}
	if o.To != (gcommon.Address{}) {
		base.To = o.To
	}
	if o.Value != nil {
		base.Value = o.Value
	}
	if o.Gas != nil {
		base.Gas = o.Gas
	}
	if o.Nonce != nil {
		base.Nonce = o.Nonce
	}
	if len(o.Data) > 0 {
		base.Data = o.Data
	}
	return base
}

func mergeDomain(base, o apitypes.TypedDataDomain) apitypes.TypedDataDomain {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Version != "" {
		base.Version = o.Version
	}
	if o.ChainId != nil {
		base.ChainId = o.ChainId
	}
	if o.VerifyingContract != "" {
		base.VerifyingContract = o.VerifyingContract
	}
	if o.Salt != "" {
		base.Salt = o.Salt
	}
	return base
}
