package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeCompile = "compile:video"

	compileQueue = "compile"
)

// CompileTaskPayload links an asynq task back to its job record and the
// schedule config that produced it.
type CompileTaskPayload struct {
	JobID    string `json:"jobId"`
	ConfigID string `json:"configId"`
}

// AsynqEnqueuer dispatches compile tasks onto the asynq queue. It is the
// production implementation of the schedule engine's CompileEnqueuer.
type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) EnqueueCompile(ctx context.Context, jobID, configID string) error {
	payload, err := json.Marshal(CompileTaskPayload{JobID: jobID, ConfigID: configID})
	if err != nil {
		return fmt.Errorf("marshal compile task: %w", err)
	}

	// Retries are left to the schedule's next run; replaying a task against
	// a job that already moved past pending would only bounce off the state
	// machine.
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeCompile, payload),
		asynq.Queue(compileQueue),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue compile task: %w", err)
	}
	return nil
}
