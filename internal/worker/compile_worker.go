package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/service"
	"github.com/autoreel/api/internal/store"
)

// CompileWorker is the in-process reference executor for video_compile
// jobs. It only talks to the lifecycle manager (start, progress, complete,
// fail), exactly like an out-of-process executor would over HTTP, and it
// honors cooperative cancellation by re-reading the job between steps.
type CompileWorker struct {
	jobs     *service.JobService
	stepWait time.Duration
	log      *zap.SugaredLogger
}

// compileSteps is the mock compilation pipeline; a production executor
// would fetch, clean, synthesize and render here.
var compileSteps = []string{
	"Selecting news items",
	"Cleaning article images",
	"Synthesizing narration",
	"Rendering video segments",
	"Concatenating segments",
	"Uploading compilation",
}

// CompileResult is the opaque result payload stored on completed jobs.
type CompileResult struct {
	VideoURL        string  `json:"videoUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
	Segments        int     `json:"segments"`
}

func NewCompileWorker(jobs *service.JobService, stepWait time.Duration, log *zap.SugaredLogger) *CompileWorker {
	if stepWait <= 0 {
		stepWait = 500 * time.Millisecond
	}
	return &CompileWorker{jobs: jobs, stepWait: stepWait, log: log}
}

// ProcessTask handles one compile task from the queue.
func (w *CompileWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CompileTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal compile task payload: %w", err)
	}

	w.log.Infow("compile job starting", "job_id", payload.JobID, "config_id", payload.ConfigID)

	if err := w.jobs.Start(ctx, payload.JobID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			// Cancelled before pickup, already claimed by another worker, or
			// the record is gone. Nothing left to do with this task.
			w.log.Infow("compile job not startable, dropping task",
				"job_id", payload.JobID, "error", err)
			return nil
		}
		return err
	}

	total := len(compileSteps)
	for i, step := range compileSteps {
		job, err := w.jobs.Get(ctx, payload.JobID)
		if err != nil {
			return err
		}
		if job.Cancelled {
			w.log.Infow("compile job cancelled, stopping", "job_id", payload.JobID)
			return nil
		}

		if err := w.jobs.UpdateProgress(ctx, payload.JobID, &model.JobProgressRequest{
			Progress:   i,
			TotalItems: total,
			Message:    step,
		}); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				// Lost the job to a concurrent cancel or fail.
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.stepWait):
		}
	}

	if err := w.jobs.UpdateProgress(ctx, payload.JobID, &model.JobProgressRequest{
		Progress:   total,
		TotalItems: total,
		Message:    "Done",
	}); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}

	result, err := json.Marshal(CompileResult{
		VideoURL:        fmt.Sprintf("https://cdn.autoreel.io/compilations/%s.mp4", uuid.New().String()),
		DurationSeconds: float64(total) * 12.5,
		Segments:        total,
	})
	if err != nil {
		return fmt.Errorf("marshal compile result: %w", err)
	}

	if err := w.jobs.Complete(ctx, payload.JobID, result); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil
		}
		if failErr := w.jobs.Fail(ctx, payload.JobID, "failed to persist compile result"); failErr != nil {
			w.log.Errorw("failed to fail compile job", "job_id", payload.JobID, "error", failErr)
		}
		return err
	}

	w.log.Infow("compile job finished", "job_id", payload.JobID)
	return nil
}
