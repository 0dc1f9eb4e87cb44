package tasks

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

var ErrTaskNotFound = errors.New("task not found")

type TaskResult struct {
	TaskID string          `json:"task_id"`
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// GetTaskResult reports a queued task's state, with its result once it has
// completed.
func GetTaskResult(inspector *asynq.Inspector, queue, taskID string) (*TaskResult, error) {
	info, err := inspector.GetTaskInfo(queue, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	result := &TaskResult{
		TaskID: info.ID,
		State:  info.State.String(),
		Error:  info.LastErr,
	}
	if info.State == asynq.TaskStateCompleted && len(info.Result) > 0 {
		result.Result = info.Result
	}
	return result, nil
}
