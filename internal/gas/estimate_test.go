package gas

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/txengine/internal/provider/providertest"
	"github.com/vultisig/txengine/internal/types"
)

const payableABI = `[
	{"type":"function","name":"mint","stateMutability":"payable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

func TestEstimateGasForCall(t *testing.T) {
	ctx := context.Background()
	o := newTestOracle(&fakeClock{now: time.Unix(1700000000, 0)})
	client := providertest.NewClient(137)
	client.Gas = 50000
	client.SetGasPrice(big.NewInt(100))
	p := client.NewProvider(testChain(big.NewInt(0)))

	contract, err := types.ParseContract("0x00000000000000000000000000000000000000aa", payableABI)
	require.NoError(t, err)
	from := gcommon.HexToAddress("0x0000000000000000000000000000000000000abc")
	args := []interface{}{from, big.NewInt(1)}

	gasUnits, err := o.EstimateGasForCall(ctx, p, contract, from, "mint", args, types.CallOverrides{})
	require.NoError(t, err)
	assert.Equal(t, uint64(55000), gasUnits, "padded by 10%")

	_, err = o.EstimateGasForCall(ctx, p, contract, from, "burn", args, types.CallOverrides{})
	assert.ErrorIs(t, err, types.ErrInvalidAddressOrArgs)
}

func TestEstimateGasForCallChecksBalance(t *testing.T) {
	ctx := context.Background()
	o := newTestOracle(&fakeClock{now: time.Unix(1700000000, 0)})
	client := providertest.NewClient(137)
	client.Gas = 50000
	p := client.NewProvider(testChain(big.NewInt(0)))

	contract, err := types.ParseContract("0x00000000000000000000000000000000000000aa", payableABI)
	require.NoError(t, err)
	from := gcommon.HexToAddress("0x0000000000000000000000000000000000000abc")
	args := []interface{}{from, big.NewInt(1)}
	overrides := types.CallOverrides{Value: big.NewInt(1000), GasPrice: big.NewInt(10)}

	// needs 1000 + 55000*10
	client.SetBalance(from, big.NewInt(551000))
	_, err = o.EstimateGasForCall(ctx, p, contract, from, "mint", args, overrides)
	require.NoError(t, err)

	client.SetBalance(from, big.NewInt(550999))
	_, err = o.EstimateGasForCall(ctx, p, contract, from, "mint", args, overrides)
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.True(t, strings.Contains(err.Error(), "MATIC"))
	assert.True(t, strings.Contains(err.Error(), "short by 1 wei"))
}
