package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/txengine/internal/types"
)

func TestNormalizeError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code string
	}{
		{name: "insufficient funds", err: errors.New("insufficient funds for gas * price + value"), code: types.CodeInsufficientFunds},
		{name: "nonce too low", err: errors.New("nonce too low: next nonce 8, tx nonce 7"), code: types.CodeNonceExpired},
		{name: "nonce used", err: errors.New("Nonce has already been used"), code: types.CodeNonceExpired},
		{name: "replacement underpriced", err: errors.New("replacement transaction underpriced"), code: types.CodeGasUnderpriced},
		{name: "base fee", err: errors.New("max fee per gas less than block base fee"), code: types.CodeGasUnderpriced},
		{name: "reverted", err: errors.New("execution reverted: Ownable: caller is not the owner"), code: types.CodeExecutionReverted},
		{name: "intrinsic gas", err: errors.New("intrinsic gas too low"), code: types.CodeRPCError},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), code: types.CodeTimeout},
		{name: "connection", err: errors.New("Post \"https://rpc\": dial tcp 1.2.3.4:443: connection refused"), code: types.CodeRPCConnectionFailed},
		{name: "invalid address", err: errors.New("invalid address"), code: types.CodeInvalidAddressOrArgs},
		{name: "unknown", err: errors.New("something odd"), code: types.CodeRPCError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := NormalizeError(tc.err, "")
			require.Error(t, err)
			assert.Equal(t, tc.code, types.ErrorCode(err))
			assert.ErrorIs(t, err, tc.err, "cause is kept")
			assert.Contains(t, err.Error(), "("+tc.code+")")
		})
	}
}

func TestNormalizeErrorInsufficientFundsChainHint(t *testing.T) {
	raw := errors.New("insufficient funds for gas * price + value: address 0xabc have 0 want 1")

	withChain := NormalizeError(raw, "MATIC")
	assert.Contains(t, withChain.Error(), "MATIC")
	assert.ErrorIs(t, withChain, types.ErrInsufficientFunds)

	withoutChain := NormalizeError(raw, "")
	assert.NotContains(t, withoutChain.Error(), " on ")
	assert.Equal(t, "insufficient funds for gas (INSUFFICIENT_FUNDS)", withoutChain.Error())
}

func TestNormalizeErrorPassThrough(t *testing.T) {
	assert.NoError(t, NormalizeError(nil, "MATIC"))

	original := fmt.Errorf("wrapped: %w", types.NewTransactionError(types.CodeLockTimeout, nil, "lock busy"))
	normalized := NormalizeError(original, "MATIC")
	assert.Equal(t, original, normalized)
	assert.ErrorIs(t, normalized, types.ErrLockTimeout)
}

func TestRevertReason(t *testing.T) {
	err := errors.New("execution reverted: ERC20: transfer amount exceeds balance")
	assert.Equal(t, "ERC20: transfer amount exceeds balance", revertReason(err))
	assert.Equal(t, "unknown reason", revertReason(errors.New("execution reverted")))
}
