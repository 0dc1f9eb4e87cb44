package provider

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vultisig/txengine/internal/types"
)

var (
	nonceExpiredMessages = []string{
		"nonce too low",
		"nonce has already been used",
		"nonce is too low",
	}
	underpricedMessages = []string{
		"replacement transaction underpriced",
		"transaction underpriced",
		"gas price too low",
		"max fee per gas less than block base fee",
		"fee cap less than block base fee",
	}
	gasLimitMessages = []string{
		"intrinsic gas too low",
		"gas required exceeds allowance",
		"out of gas",
		"exceeds block gas limit",
	}
	connectionMessages = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"dial tcp",
		"eof",
		"bad gateway",
		"service unavailable",
		"too many requests",
	}
	invalidArgMessages = []string{
		"invalid address",
		"invalid argument",
		"abi: ",
	}
)

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// NormalizeError maps a raw RPC or client failure into a *types.TransactionError
// with a stable code. chainHint, when not empty, is used to specialise the
// insufficient funds message. Errors that are already normalized are returned
// unchanged; nil stays nil.
func NormalizeError(err error, chainHint string) error {
	if err == nil {
		return nil
	}
	var txErr *types.TransactionError
	if errors.As(err, &txErr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		if chainHint != "" {
			return types.NewTransactionError(types.CodeInsufficientFunds, err,
				"insufficient funds for gas on %s, top up the wallet with %s native token", chainHint, chainHint)
		}
		return types.NewTransactionError(types.CodeInsufficientFunds, err, "insufficient funds for gas")

	case containsAny(msg, nonceExpiredMessages):
		return types.NewTransactionError(types.CodeNonceExpired, err, "nonce has already been used")

	case containsAny(msg, underpricedMessages):
		return types.NewTransactionError(types.CodeGasUnderpriced, err, "gas price too low for inclusion")

	case strings.Contains(msg, "execution reverted"):
		return types.NewTransactionError(types.CodeExecutionReverted, err, "execution reverted: %s", revertReason(err))

	case containsAny(msg, gasLimitMessages):
		return types.NewTransactionError(types.CodeRPCError, err, "gas limit too low or exceeds block limit")

	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return types.NewTransactionError(types.CodeTimeout, err, "rpc request timed out")

	case isConnectionError(err) || containsAny(msg, connectionMessages):
		return types.NewTransactionError(types.CodeRPCConnectionFailed, err, "could not reach rpc endpoint")

	case containsAny(msg, invalidArgMessages):
		return types.NewTransactionError(types.CodeInvalidAddressOrArgs, err, "invalid address or arguments: %s", err.Error())

	default:
		return types.NewTransactionError(types.CodeRPCError, err, "rpc call failed: %s", err.Error())
	}
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr rpc.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 500
}

// revertReason extracts the Error(string) reason from the revert data carried
// by the RPC error, falling back to the text after "execution reverted:".
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	parts := strings.SplitN(err.Error(), "execution reverted:", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[1])
	}
	return "unknown reason"
}
