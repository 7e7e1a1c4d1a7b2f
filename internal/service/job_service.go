package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autoreel/api/internal/metrics"
	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/store"
)

// Broadcaster pushes job lifecycle events to subscribed clients. The
// WebSocket hub implements it; a nil broadcaster disables push entirely.
type Broadcaster interface {
	BroadcastProgress(jobID string, progress, totalItems int, status model.JobStatus, message string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID, code, message string)
}

// TerminalListener is notified after a job reaches a terminal status. The
// schedule engine registers itself here to close out linked runs, whether
// the executor reported over HTTP or in-process.
type TerminalListener interface {
	HandleJobTerminal(ctx context.Context, job *model.Job)
}

// JobService is the job lifecycle manager: it enforces the state machine on
// top of the record store. All transitions delegate to the store's atomic
// compare-and-set scripts, so concurrent executors, ticks and UI actions
// cannot double-apply a transition.
type JobService struct {
	store    *store.JobStore
	hub      Broadcaster
	listener TerminalListener
	log      *zap.SugaredLogger
}

func NewJobService(jobStore *store.JobStore, hub Broadcaster, log *zap.SugaredLogger) *JobService {
	return &JobService{
		store: jobStore,
		hub:   hub,
		log:   log,
	}
}

// SetTerminalListener registers the completion listener. Called once during
// wiring, before any traffic.
func (s *JobService) SetTerminalListener(l TerminalListener) {
	s.listener = l
}

// Create records a new pending job. An empty TenantID marks a system-level
// job. Caller-supplied ids that collide return store.ErrDuplicateID.
func (s *JobService) Create(ctx context.Context, tenantID string, req *model.CreateJobRequest) (*model.Job, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	job := &model.Job{
		ID:        jobID,
		TenantID:  tenantID,
		Type:      req.Type,
		Status:    model.JobStatusPending,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsCreated.WithLabelValues(job.Type).Inc()
	s.log.Infow("job created", "job_id", job.ID, "type", job.Type, "tenant_id", tenantID)
	return job, nil
}

// Start moves a pending job to running.
func (s *JobService) Start(ctx context.Context, jobID string) error {
	err := s.store.Transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusPending},
		model.JobStatusRunning,
		map[string]string{"started_at": time.Now().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}

	metrics.JobTransitions.WithLabelValues(s.jobType(ctx, jobID), string(model.JobStatusRunning)).Inc()
	if s.hub != nil {
		s.hub.BroadcastProgress(jobID, 0, 0, model.JobStatusRunning, "")
	}
	return nil
}

// UpdateProgress records executor progress on a running job.
func (s *JobService) UpdateProgress(ctx context.Context, jobID string, req *model.JobProgressRequest) error {
	if err := s.store.UpdateProgress(ctx, jobID, req.Progress, req.TotalItems, req.Message); err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.BroadcastProgress(jobID, req.Progress, req.TotalItems, model.JobStatusRunning, req.Message)
	}
	return nil
}

// Complete moves a running job to completed and stores its result payload.
func (s *JobService) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	fields := map[string]string{
		"completed_at": time.Now().Format(time.RFC3339Nano),
	}
	if len(result) > 0 {
		fields["result"] = string(result)
	}
	err := s.store.Transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusRunning},
		model.JobStatusCompleted, fields)
	if err != nil {
		return err
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload completed job: %w", err)
	}

	metrics.JobTransitions.WithLabelValues(job.Type, string(model.JobStatusCompleted)).Inc()
	s.log.Infow("job completed", "job_id", jobID, "type", job.Type)
	if s.hub != nil {
		s.hub.BroadcastComplete(jobID, job.Result)
	}
	s.notifyTerminal(ctx, job)
	return nil
}

// Fail moves a pending or running job to failed, storing the executor's
// error message verbatim.
func (s *JobService) Fail(ctx context.Context, jobID, errMsg string) error {
	err := s.store.Transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusRunning},
		model.JobStatusFailed,
		map[string]string{
			"completed_at": time.Now().Format(time.RFC3339Nano),
			"error":        errMsg,
		})
	if err != nil {
		return err
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload failed job: %w", err)
	}

	metrics.JobTransitions.WithLabelValues(job.Type, string(model.JobStatusFailed)).Inc()
	s.log.Warnw("job failed", "job_id", jobID, "type", job.Type, "error", errMsg)
	if s.hub != nil {
		s.hub.BroadcastError(jobID, "JOB_FAILED", errMsg)
	}
	s.notifyTerminal(ctx, job)
	return nil
}

// Cancel flips a pending or running job to cancelled. Cancellation is
// cooperative: the executor is expected to observe the flag and stop; the
// core never interrupts it.
func (s *JobService) Cancel(ctx context.Context, jobID string) error {
	err := s.store.Transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusRunning},
		model.JobStatusCancelled,
		map[string]string{
			"cancelled":    "1",
			"completed_at": time.Now().Format(time.RFC3339Nano),
		})
	if err != nil {
		return err
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload cancelled job: %w", err)
	}

	metrics.JobTransitions.WithLabelValues(job.Type, string(model.JobStatusCancelled)).Inc()
	s.log.Infow("job cancelled", "job_id", jobID, "type", job.Type)
	if s.hub != nil {
		s.hub.BroadcastError(jobID, "JOB_CANCELLED", "Job cancelled")
	}
	s.notifyTerminal(ctx, job)
	return nil
}

// Get returns the latest job snapshot.
func (s *JobService) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// List returns the tenant's job history, most recent first.
func (s *JobService) List(ctx context.Context, tenantID string, q *model.JobListQuery) (*model.JobListResponse, error) {
	jobs, total, err := s.store.List(ctx, tenantID, q.Type, q.Status, q.Page, q.PageSize)
	if err != nil {
		return nil, err
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return &model.JobListResponse{
		Jobs:     jobs,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

func (s *JobService) notifyTerminal(ctx context.Context, job *model.Job) {
	if s.listener != nil {
		s.listener.HandleJobTerminal(ctx, job)
	}
}

func (s *JobService) jobType(ctx context.Context, jobID string) string {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return "unknown"
	}
	return job.Type
}
