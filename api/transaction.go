package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	"github.com/vultisig/txengine/internal/tasks"
	"github.com/vultisig/txengine/internal/types"
)

type TaskEnqueuedResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

type GasPriceResponse struct {
	Chain    string `json:"chain"`
	GasPrice string `json:"gas_price"`
}

type ValidateRPCRequest struct {
	URL string `json:"url"`
}

type ValidateRPCResponse struct {
	Valid bool `json:"valid"`
}

// decodeBody keeps JSON numbers exact, contract arguments can exceed 2^53.
func decodeBody(c echo.Context, v interface{}) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("fail to read body, err: %v", err))
	}
	if err := tasks.Decode(body, v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("fail to parse request, err: %v", err))
	}
	return nil
}

func (s *Server) enqueue(c echo.Context, task *asynq.Task) error {
	if s.client == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task queue is not configured")
	}
	info, err := s.client.Enqueue(task, tasks.EnqueueOptions(s.queue)...)
	if err != nil {
		return fmt.Errorf("fail to enqueue task, err: %w", err)
	}
	return c.JSON(http.StatusAccepted, TaskEnqueuedResponse{TaskID: info.ID, Queue: info.Queue})
}

// ExecuteTransaction runs a contract call synchronously, or queues it when
// async=true.
func (s *Server) ExecuteTransaction(c echo.Context) error {
	var req tasks.ExecuteTransactionPayload
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := req.IsValid(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request, err: %v", err))
	}

	if c.QueryParam("async") == "true" {
		task, err := tasks.NewExecuteTransaction(req)
		if err != nil {
			return fmt.Errorf("fail to create task, err: %w", err)
		}
		return s.enqueue(c, task)
	}

	ctx := c.Request().Context()
	signer, err := s.engine.ResolveSigner(ctx, req.WalletID)
	if err != nil {
		return err
	}
	execReq, err := req.ToRequest(signer)
	if err != nil {
		return err
	}
	record, err := s.engine.ExecuteTransaction(ctx, execReq)
	if err != nil {
		if record == nil {
			return err
		}
		status, body := errorResponse(err)
		body.Transaction = record
		return c.JSON(status, body)
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) GetTaskResult(c echo.Context) error {
	taskID := c.Param("taskId")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}
	if s.inspector == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task queue is not configured")
	}
	result, err := tasks.GetTaskResult(s.inspector, s.queue, taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return fmt.Errorf("fail to get task result, err: %w", err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) DeployContract(c echo.Context) error {
	var req tasks.DeployContractPayload
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := req.IsValid(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request, err: %v", err))
	}

	if c.QueryParam("async") == "true" {
		task, err := tasks.NewDeployContract(req)
		if err != nil {
			return fmt.Errorf("fail to create task, err: %w", err)
		}
		return s.enqueue(c, task)
	}

	ctx := c.Request().Context()
	signer, err := s.engine.ResolveSigner(ctx, req.WalletID)
	if err != nil {
		return err
	}
	deployReq, err := req.ToRequest(signer)
	if err != nil {
		return err
	}
	result, err := s.engine.DeployContract(ctx, deployReq)
	if err != nil {
		if result == nil || result.Transaction == nil {
			return err
		}
		status, body := errorResponse(err)
		body.Transaction = result.Transaction
		return c.JSON(status, body)
	}
	return c.JSON(http.StatusOK, result)
}

// BuildForwardRequest signs a forward request for the caller to relay.
func (s *Server) BuildForwardRequest(c echo.Context) error {
	var req tasks.ExecuteTransactionPayload
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := req.IsValid(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request, err: %v", err))
	}
	ctx := c.Request().Context()
	signer, err := s.engine.ResolveSigner(ctx, req.WalletID)
	if err != nil {
		return err
	}
	execReq, err := req.ToRequest(signer)
	if err != nil {
		return err
	}
	signed, err := s.engine.BuildForwardRequest(ctx, execReq)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, signed)
}

func (s *Server) GetGasPrice(c echo.Context) error {
	chain := c.Param("chain")
	rpcOverrides := c.QueryParams()["rpc"]
	name, price, err := s.engine.GetChainGasPrice(c.Request().Context(), chain, rpcOverrides)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GasPriceResponse{Chain: name, GasPrice: price.String()})
}

func (s *Server) ValidateRPCURL(c echo.Context) error {
	var req ValidateRPCRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("fail to parse request, err: %v", err))
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	valid := s.engine.ValidateRPCURL(c.Request().Context(), c.Param("chain"), req.URL)
	return c.JSON(http.StatusOK, ValidateRPCResponse{Valid: valid})
}

func (s *Server) ListTransactions(c echo.Context) error {
	walletID := c.Param("walletId")
	if walletID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "wallet id is required")
	}
	take, err := queryInt(c, "take", 20)
	if err != nil {
		return err
	}
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		return err
	}
	records, err := s.engine.ListTransactions(c.Request().Context(), walletID, take, skip)
	if err != nil {
		return fmt.Errorf("fail to list transactions, err: %w", err)
	}
	if records == nil {
		records = []types.TransactionRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %s", name, raw))
	}
	return v, nil
}
