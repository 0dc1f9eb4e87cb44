package types

import (
	"errors"
	"fmt"
)

type TransactionError struct {
	Code    string
	Message string
	Err     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a TransactionError carrying the same code, so
// errors.Is(err, ErrLockTimeout) works regardless of message or cause.
func (e *TransactionError) Is(target error) bool {
	t, ok := target.(*TransactionError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

const (
	CodeUnsupportedChain     = "UNSUPPORTED_CHAIN"
	CodeLockTimeout          = "LOCK_TIMEOUT"
	CodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	CodeInvalidAddressOrArgs = "INVALID_ADDRESS_OR_ARGS"
	CodeRPCError             = "RPC_ERROR"
	CodeNonceExpired         = "NONCE_EXPIRED"
	CodeRelayUnsupported     = "RELAY_UNSUPPORTED"
	CodeContractNotFound     = "CONTRACT_NOT_FOUND"

	// normalized RPC failures
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeGasUnderpriced      = "GAS_UNDERPRICED"
	CodeExecutionReverted   = "EXECUTION_REVERTED"
	CodeRPCConnectionFailed = "RPC_CONNECTION_FAILED"
	CodeTimeout             = "TIMEOUT"
	CodeTxTimeout           = "TX_TIMEOUT"
	CodeUnknown             = "UNKNOWN_ERROR"
)

// Sentinels for errors.Is. Only Code is compared.
var (
	ErrUnsupportedChain     = &TransactionError{Code: CodeUnsupportedChain, Message: "unsupported chain"}
	ErrLockTimeout          = &TransactionError{Code: CodeLockTimeout, Message: "timed out acquiring lock"}
	ErrInsufficientBalance  = &TransactionError{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrInvalidAddressOrArgs = &TransactionError{Code: CodeInvalidAddressOrArgs, Message: "invalid address or arguments"}
	ErrRPC                  = &TransactionError{Code: CodeRPCError, Message: "rpc error"}
	ErrNonceExpired         = &TransactionError{Code: CodeNonceExpired, Message: "nonce has already been used"}
	ErrRelayUnsupported     = &TransactionError{Code: CodeRelayUnsupported, Message: "gasless relay is not supported"}
	ErrContractNotFound     = &TransactionError{Code: CodeContractNotFound, Message: "contract not found"}
	ErrInsufficientFunds    = &TransactionError{Code: CodeInsufficientFunds, Message: "insufficient funds for gas"}
	ErrGasUnderpriced       = &TransactionError{Code: CodeGasUnderpriced, Message: "gas price too low"}
	ErrExecutionReverted    = &TransactionError{Code: CodeExecutionReverted, Message: "execution reverted"}
	ErrRPCConnectionFailed  = &TransactionError{Code: CodeRPCConnectionFailed, Message: "rpc connection failed"}
	ErrTimeout              = &TransactionError{Code: CodeTimeout, Message: "rpc request timed out"}
	ErrTxTimeout            = &TransactionError{Code: CodeTxTimeout, Message: "transaction was not mined in time"}
)

func NewTransactionError(code string, err error, format string, args ...interface{}) *TransactionError {
	return &TransactionError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ErrorCode returns the taxonomy code carried by err, or CodeUnknown.
func ErrorCode(err error) string {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.Code
	}
	return CodeUnknown
}
