package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

func NewExecuteTransaction(payload ExecuteTransactionPayload) (*asynq.Task, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExecuteTransaction, buf), nil
}

func NewDeployContract(payload DeployContractPayload) (*asynq.Task, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeployContract, buf), nil
}

// EnqueueOptions bounds retries: a retried task leases a fresh nonce, the
// failed one has already been handed back.
func EnqueueOptions(queue string) []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(5 * time.Minute),
		asynq.Retention(time.Hour),
		asynq.Queue(queue),
	}
}
