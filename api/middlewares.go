package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/txengine/internal/types"
)

func (s *Server) statsdMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start).Milliseconds()

		// Send metrics to statsd
		_ = s.sdClient.Incr("http.requests", []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Timing("http.response_time", time.Duration(duration)*time.Millisecond, []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Incr("http.status."+fmt.Sprint(c.Response().Status), []string{"path:" + c.Path(), "method:" + c.Request().Method}, 1)

		return err
	}
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error       ErrorBody                `json:"error"`
	Transaction *types.TransactionRecord `json:"transaction,omitempty"`
}

func statusForCode(code string) int {
	switch code {
	case types.CodeInvalidAddressOrArgs,
		types.CodeUnsupportedChain,
		types.CodeRelayUnsupported,
		types.CodeInsufficientBalance,
		types.CodeInsufficientFunds:
		return http.StatusBadRequest
	case types.CodeContractNotFound:
		return http.StatusNotFound
	case types.CodeLockTimeout,
		types.CodeNonceExpired,
		types.CodeExecutionReverted:
		return http.StatusConflict
	case types.CodeRPCConnectionFailed,
		types.CodeTimeout,
		types.CodeTxTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func errorResponse(err error) (int, ErrorResponse) {
	var txErr *types.TransactionError
	if errors.As(err, &txErr) {
		return statusForCode(txErr.Code), ErrorResponse{Error: ErrorBody{Code: txErr.Code, Message: txErr.Message}}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{Code: types.CodeUnknown, Message: err.Error()}}
}

// errorHandler renders engine errors with their code; everything else goes
// through echo's default handling.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		c.Echo().DefaultHTTPErrorHandler(err, c)
		return
	}
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	if writeErr := c.JSON(status, body); writeErr != nil {
		s.logger.WithError(writeErr).Error("fail to write error response")
	}
}
