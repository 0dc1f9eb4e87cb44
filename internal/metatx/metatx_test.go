package metatx

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/txengine/internal/chains"
	"github.com/vultisig/txengine/internal/gas"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/provider/providertest"
	"github.com/vultisig/txengine/internal/types"
)

const counterABI = `[
	{"type":"function","name":"increment","stateMutability":"nonpayable","inputs":[{"name":"by","type":"uint256"}],"outputs":[]}
]`

var (
	forwarderAddr = gcommon.HexToAddress("0x00000000000000000000000000000000000000f0")
	contractAddr  = "0x00000000000000000000000000000000000000c0"
)

type fixture struct {
	builder  *Builder
	client   *providertest.Client
	provider *provider.Provider
	contract *types.Contract
	signer   types.Signer
}

func newFixture(t *testing.T, withForwarder bool) *fixture {
	t.Helper()
	c := chains.Chain{Name: "MATIC", ID: 137}
	if withForwarder {
		fwd := forwarderAddr
		c.Forwarder = &fwd
	}
	chain, err := chains.NewRegistry(c).ByName("MATIC")
	require.NoError(t, err)

	client := providertest.NewClient(137)
	client.Gas = 100000
	contract, err := types.ParseContract(contractAddr, counterABI)
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	logger := logrus.New()
	return &fixture{
		builder:  NewBuilder(gas.NewOracle(gas.Options{}, logger), logger),
		client:   client,
		provider: client.NewProvider(chain),
		contract: contract,
		signer:   types.Signer{WalletID: "wallet-1", Key: key},
	}
}

func (f *fixture) request(overrides *types.GaslessOverrides) BuildRequest {
	return BuildRequest{
		Provider:  f.provider,
		Contract:  f.contract,
		Signer:    f.signer,
		Method:    "increment",
		Args:      []interface{}{big.NewInt(5)},
		Overrides: overrides,
	}
}

func TestBuildForwardRequestSignatureRecoversWallet(t *testing.T) {
	f := newFixture(t, true)

	signed, err := f.builder.BuildForwardRequest(context.Background(), f.request(nil))
	require.NoError(t, err)

	require.Len(t, signed.Signature, crypto.SignatureLength)
	v := signed.Signature[crypto.RecoveryIDOffset]
	assert.True(t, v == 27 || v == 28, "v is %d", v)

	recovered, err := RecoverSigner(signed)
	require.NoError(t, err)
	assert.Equal(t, f.signer.Address(), recovered)
}

func TestBuildForwardRequestDefaults(t *testing.T) {
	f := newFixture(t, true)

	signed, err := f.builder.BuildForwardRequest(context.Background(), f.request(nil))
	require.NoError(t, err)

	assert.Equal(t, forwarderAddr, signed.Forwarder)
	assert.Equal(t, "GSNv2 Forwarder", signed.Domain.Name)
	assert.Equal(t, "0.0.1", signed.Domain.Version)
	assert.Equal(t, int64(137), (*big.Int)(signed.Domain.ChainId).Int64())
	assert.Equal(t, forwarderAddr.Hex(), signed.Domain.VerifyingContract)

	req := signed.Request
	assert.Equal(t, f.signer.Address(), req.From)
	assert.Equal(t, f.contract.Address, req.To)
	assert.Equal(t, int64(0), req.Value.Int64())
	assert.Equal(t, int64(110000), req.Gas.Int64(), "estimate padded by 10%")
	expectedData, err := f.contract.Pack("increment", big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, expectedData, req.Data)
	assert.True(t, req.Nonce.Sign() >= 0)
	assert.True(t, req.Nonce.BitLen() <= 256)

	var fields []string
	for _, field := range signed.Types["ForwardRequest"] {
		fields = append(fields, field.Name+" "+field.Type)
	}
	assert.Equal(t, []string{
		"from address",
		"to address",
		"value uint256",
		"gas uint256",
		"nonce uint256",
		"data bytes",
	}, fields)
}

func TestBuildForwardRequestNoncesAreRandom(t *testing.T) {
	f := newFixture(t, true)

	a, err := f.builder.BuildForwardRequest(context.Background(), f.request(nil))
	require.NoError(t, err)
	b, err := f.builder.BuildForwardRequest(context.Background(), f.request(nil))
	require.NoError(t, err)
	assert.NotEqual(t, 0, a.Request.Nonce.Cmp(b.Request.Nonce))
}

func TestBuildForwardRequestOverrides(t *testing.T) {
	f := newFixture(t, true)
	f.client.EstimateErr = errors.New("estimation must not run when gas is given")
	otherForwarder := gcommon.HexToAddress("0x00000000000000000000000000000000000000f1")

	overrides := &types.GaslessOverrides{
		ForwardRequest: &types.ForwardRequest{
			Gas:   big.NewInt(300000),
			Nonce: big.NewInt(42),
		},
		Domain: &apitypes.TypedDataDomain{
			Name:              "MinimalForwarder",
			VerifyingContract: otherForwarder.Hex(),
		},
	}
	signed, err := f.builder.BuildForwardRequest(context.Background(), f.request(overrides))
	require.NoError(t, err)

	assert.Equal(t, int64(300000), signed.Request.Gas.Int64())
	assert.Equal(t, int64(42), signed.Request.Nonce.Int64())
	assert.Equal(t, "MinimalForwarder", signed.Domain.Name)
	assert.Equal(t, "0.0.1", signed.Domain.Version)
	assert.Equal(t, otherForwarder, signed.Forwarder)

	recovered, err := RecoverSigner(signed)
	require.NoError(t, err)
	assert.Equal(t, f.signer.Address(), recovered)
}

func TestBuildForwardRequestValueIgnoresWalletBalance(t *testing.T) {
	f := newFixture(t, true)
	f.client.SetBalance(f.signer.Address(), big.NewInt(0))
	value := big.NewInt(1_000_000_000_000_000_000)

	signed, err := f.builder.BuildForwardRequest(context.Background(), f.request(&types.GaslessOverrides{
		ForwardRequest: &types.ForwardRequest{Value: value},
	}))
	require.NoError(t, err)
	assert.Equal(t, 0, value.Cmp(signed.Request.Value))
	assert.Equal(t, int64(110000), signed.Request.Gas.Int64())
}

func TestBuildForwardRequestTamperedRequestRecoversOtherAddress(t *testing.T) {
	f := newFixture(t, true)

	signed, err := f.builder.BuildForwardRequest(context.Background(), f.request(nil))
	require.NoError(t, err)
	signed.Request.Value = big.NewInt(1)

	recovered, err := RecoverSigner(signed)
	require.NoError(t, err)
	assert.NotEqual(t, f.signer.Address(), recovered)
}

func TestBuildForwardRequestWithoutForwarder(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.builder.BuildForwardRequest(context.Background(), f.request(nil))
	assert.ErrorIs(t, err, types.ErrRelayUnsupported)
}

func TestBuildForwardRequestUnknownMethod(t *testing.T) {
	f := newFixture(t, true)
	req := f.request(nil)
	req.Method = "decrement"

	_, err := f.builder.BuildForwardRequest(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInvalidAddressOrArgs)
}

func TestExecuteCalldata(t *testing.T) {
	f := newFixture(t, true)
	signed, err := f.builder.BuildForwardRequest(context.Background(), f.request(nil))
	require.NoError(t, err)

	data, err := ExecuteCalldata(signed)
	require.NoError(t, err)

	method := forwarderABI.Methods["execute"]
	assert.Equal(t, method.ID, data[:4])
	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, []byte(signed.Signature), values[1])
}

func TestIsTrustedForwarder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	contract := f.contract.Address

	trusted, err := IsTrustedForwarder(ctx, f.provider, contract, forwarderAddr)
	require.NoError(t, err)
	assert.False(t, trusted, "reverting call means not trusted")

	f.client.CallFn = func(msg ethereum.CallMsg) ([]byte, error) {
		args, err := recipientABI.Methods["isTrustedForwarder"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		return recipientABI.Methods["isTrustedForwarder"].Outputs.Pack(args[0].(gcommon.Address) == forwarderAddr)
	}
	trusted, err = IsTrustedForwarder(ctx, f.provider, contract, forwarderAddr)
	require.NoError(t, err)
	assert.True(t, trusted)

	f.client.CallFn = func(msg ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	_, err = IsTrustedForwarder(ctx, f.provider, contract, forwarderAddr)
	assert.ErrorIs(t, err, types.ErrRPCConnectionFailed)
}
