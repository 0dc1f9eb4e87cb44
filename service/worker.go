package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/contexthelper"
	"github.com/vultisig/txengine/internal/tasks"
	"github.com/vultisig/txengine/internal/types"
)

// WorkerService runs queued executions and deployments.
type WorkerService struct {
	engine   *TransactionService
	logger   *logrus.Logger
	sdClient statsd.ClientInterface
}

func NewWorker(engine *TransactionService, sdClient statsd.ClientInterface) (*WorkerService, error) {
	if engine == nil {
		return nil, fmt.Errorf("transaction service is nil")
	}
	if sdClient == nil {
		sdClient = &statsd.NoOpClient{}
	}
	return &WorkerService{
		engine:   engine,
		logger:   logrus.WithField("service", "worker").Logger,
		sdClient: sdClient,
	}, nil
}

type TaskFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ExecuteTransactionTaskResult struct {
	Transaction *types.TransactionRecord `json:"transaction,omitempty"`
	Error       *TaskFailure             `json:"error,omitempty"`
}

func (s *WorkerService) incCounter(name string, tags []string) {
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func (s *WorkerService) measureTime(name string, start time.Time, tags []string) {
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	switch types.ErrorCode(err) {
	case types.CodeInvalidAddressOrArgs,
		types.CodeUnsupportedChain,
		types.CodeRelayUnsupported,
		types.CodeContractNotFound,
		types.CodeInsufficientBalance,
		types.CodeInsufficientFunds,
		types.CodeExecutionReverted:
		return true
	}
	return false
}

func (s *WorkerService) HandleExecuteTransaction(ctx context.Context, t *asynq.Task) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	defer s.measureTime("worker.transaction.execute.latency", time.Now(), []string{})
	var p tasks.ExecuteTransactionPayload
	if err := tasks.Decode(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.IsValid(); err != nil {
		return fmt.Errorf("invalid execute transaction payload: %s: %w", err, asynq.SkipRetry)
	}
	s.incCounter("worker.transaction.execute", []string{})
	s.logger.WithFields(logrus.Fields{
		"contract_id": p.ContractID,
		"chain":       p.ChainName,
		"wallet_id":   p.WalletID,
		"function":    p.Function,
	}).Info("executing queued transaction")

	signer, err := s.engine.ResolveSigner(ctx, p.WalletID)
	if err != nil {
		return fmt.Errorf("fail to resolve wallet %s: %v: %w", p.WalletID, err, asynq.SkipRetry)
	}
	req, err := p.ToRequest(signer)
	if err != nil {
		return fmt.Errorf("invalid execute transaction payload: %v: %w", err, asynq.SkipRetry)
	}

	// a returned record means the transaction reached the chain, it must not
	// be submitted again whatever the outcome
	record, err := s.engine.ExecuteTransaction(ctx, req)
	if err != nil && record == nil {
		s.logger.WithError(err).WithField("wallet_id", p.WalletID).Error("queued transaction failed")
		if permanent(err) {
			return fmt.Errorf("ExecuteTransaction failed: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("ExecuteTransaction failed: %w", err)
	}
	return s.writeResult(t, ExecuteTransactionTaskResult{
		Transaction: record,
		Error:       taskFailure(err),
	})
}

func (s *WorkerService) HandleDeployContract(ctx context.Context, t *asynq.Task) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	defer s.measureTime("worker.contract.deploy.latency", time.Now(), []string{})
	var p tasks.DeployContractPayload
	if err := tasks.Decode(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.IsValid(); err != nil {
		return fmt.Errorf("invalid deploy contract payload: %s: %w", err, asynq.SkipRetry)
	}
	s.incCounter("worker.contract.deploy", []string{})
	s.logger.WithFields(logrus.Fields{
		"chain":     p.ChainName,
		"wallet_id": p.WalletID,
	}).Info("deploying queued contract")

	signer, err := s.engine.ResolveSigner(ctx, p.WalletID)
	if err != nil {
		return fmt.Errorf("fail to resolve wallet %s: %v: %w", p.WalletID, err, asynq.SkipRetry)
	}
	req, err := p.ToRequest(signer)
	if err != nil {
		return fmt.Errorf("invalid deploy contract payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := s.engine.DeployContract(ctx, req)
	if err != nil {
		s.logger.WithError(err).WithField("wallet_id", p.WalletID).Error("queued deployment failed")
		if result == nil || result.Transaction == nil {
			if permanent(err) {
				return fmt.Errorf("DeployContract failed: %w: %w", err, asynq.SkipRetry)
			}
			return fmt.Errorf("DeployContract failed: %w", err)
		}
		return s.writeResult(t, ExecuteTransactionTaskResult{
			Transaction: result.Transaction,
			Error:       taskFailure(err),
		})
	}
	return s.writeResult(t, result)
}

func taskFailure(err error) *TaskFailure {
	if err == nil {
		return nil
	}
	var txErr *types.TransactionError
	if errors.As(err, &txErr) {
		return &TaskFailure{Code: txErr.Code, Message: txErr.Message}
	}
	return &TaskFailure{Code: types.CodeUnknown, Message: err.Error()}
}

func (s *WorkerService) writeResult(t *asynq.Task, result interface{}) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		s.logger.Errorf("json.Marshal failed: %v", err)
		return fmt.Errorf("json.Marshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if _, err := t.ResultWriter().Write(resultBytes); err != nil {
		s.logger.Errorf("t.ResultWriter.Write failed: %v", err)
		return fmt.Errorf("t.ResultWriter.Write failed: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}
