package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autoreel/api/internal/metrics"
	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/store"
)

// CompileEnqueuer hands a claimed run's job to the executor transport. The
// asynq-backed implementation lives in the worker package.
type CompileEnqueuer interface {
	EnqueueCompile(ctx context.Context, jobID, configID string) error
}

// ScheduleService is the recurring-schedule engine. It is stateless over
// the persisted config table: every tick re-derives eligible work from
// storage, so any number of process restarts or parallel scheduler
// instances converge on the same claims through the store's CAS.
type ScheduleService struct {
	store    *store.ScheduleStore
	jobs     *JobService
	enqueuer CompileEnqueuer
	log      *zap.SugaredLogger
	now      func() time.Time

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScheduleService(scheduleStore *store.ScheduleStore, jobs *JobService, enqueuer CompileEnqueuer, tickInterval time.Duration, log *zap.SugaredLogger) *ScheduleService {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	return &ScheduleService{
		store:    scheduleStore,
		jobs:     jobs,
		enqueuer: enqueuer,
		log:      log,
		now:      time.Now,
		interval: tickInterval,
	}
}

// Create registers a new recurring compilation config. The first run is
// scheduled one frequency offset after creation; frequency none waits for a
// manual run-now.
func (s *ScheduleService) Create(ctx context.Context, tenantID string, req *model.CreateScheduleRequest) (*model.ScheduleConfig, error) {
	now := s.now()
	cfg := &model.ScheduleConfig{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Title:      req.Title,
		Categories: req.Categories,
		Country:    req.Country,
		Language:   req.Language,
		ItemCount:  req.ItemCount,
		Frequency:  req.Frequency,
		Status:     model.ScheduleStatusPending,
		CreatedAt:  now,
	}
	if req.Frequency != model.FrequencyNone {
		next := NextRunAfter(now, req.Frequency)
		cfg.NextRunTime = &next
	}

	if err := s.store.Create(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Infow("schedule created",
		"config_id", cfg.ID, "tenant_id", tenantID, "frequency", cfg.Frequency)
	return cfg, nil
}

func (s *ScheduleService) Get(ctx context.Context, configID string) (*model.ScheduleConfig, error) {
	return s.store.Get(ctx, configID)
}

func (s *ScheduleService) List(ctx context.Context, tenantID string) ([]*model.ScheduleConfig, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

// Delete removes the config. An in-flight linked job keeps running; its
// terminal callback no-ops once the config is gone and the result is
// discarded.
func (s *ScheduleService) Delete(ctx context.Context, configID string) error {
	if err := s.store.Delete(ctx, configID); err != nil {
		return err
	}
	s.log.Infow("schedule deleted", "config_id", configID)
	return nil
}

// RunNow flags the config for the next tick, bypassing next_run_time. The
// claim CAS still applies, so it cannot overlap an active run.
func (s *ScheduleService) RunNow(ctx context.Context, configID string) error {
	return s.store.RunNow(ctx, configID)
}

// Start launches the periodic scan loop.
func (s *ScheduleService) Start(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	s.wg.Add(1)
	go s.run()
	s.log.Infow("schedule ticker started", "interval", s.interval)
}

// Stop halts the scan loop and waits for an in-progress tick to finish.
func (s *ScheduleService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Infow("schedule ticker stopped")
}

func (s *ScheduleService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(s.ctx); err != nil {
				s.log.Warnw("schedule tick error", "error", err)
			}
		}
	}
}

// Tick runs one scan pass: find due configs, claim each, dispatch a compile
// job per won claim. A single config's failure is logged and never aborts
// the rest of the batch.
func (s *ScheduleService) Tick(ctx context.Context) error {
	metrics.ScheduleTicks.Inc()
	now := s.now()

	ids, err := s.store.ListDue(ctx, now)
	if err != nil {
		return err
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.dispatch(ctx, id, now); err != nil {
			s.log.Errorw("schedule dispatch failed", "config_id", id, "error", err)
		}
	}
	return nil
}

// dispatch claims one due config and creates its linked compile job.
func (s *ScheduleService) dispatch(ctx context.Context, configID string, now time.Time) error {
	switch err := s.store.Claim(ctx, configID, now); {
	case errors.Is(err, store.ErrConflict):
		// Another tick or process got there first.
		metrics.ScheduleClaims.WithLabelValues("lost").Inc()
		return nil
	case errors.Is(err, store.ErrNotFound):
		// Deleted config; the claim script cleared the stale due entry.
		return nil
	case err != nil:
		metrics.ScheduleClaims.WithLabelValues("error").Inc()
		return err
	}
	metrics.ScheduleClaims.WithLabelValues("won").Inc()

	cfg, err := s.store.Get(ctx, configID)
	if err != nil {
		return err
	}

	meta, _ := json.Marshal(model.CompileJobMetadata{ConfigID: configID})
	job, err := s.jobs.Create(ctx, cfg.TenantID, &model.CreateJobRequest{
		Type:     model.JobTypeVideoCompile,
		Metadata: meta,
	})
	if err != nil {
		s.abortRun(ctx, cfg, now)
		return err
	}

	if err := s.store.SetLinkedJob(ctx, configID, job.ID); err != nil {
		return err
	}

	if err := s.enqueuer.EnqueueCompile(ctx, job.ID, configID); err != nil {
		// Failing the job routes back through HandleJobTerminal, which
		// closes out the run and reschedules if recurring.
		if failErr := s.jobs.Fail(ctx, job.ID, "failed to enqueue compile task: "+err.Error()); failErr != nil {
			s.log.Errorw("failed to fail unenqueued job", "job_id", job.ID, "error", failErr)
		}
		return err
	}

	s.log.Infow("schedule run dispatched",
		"config_id", configID, "job_id", job.ID, "tenant_id", cfg.TenantID)
	return nil
}

// abortRun closes a claim that never produced a job.
func (s *ScheduleService) abortRun(ctx context.Context, cfg *model.ScheduleConfig, now time.Time) {
	var nextRun *time.Time
	if cfg.Frequency != model.FrequencyNone {
		next := NextRunAfter(now, cfg.Frequency)
		nextRun = &next
	}
	if err := s.store.FinishRun(ctx, cfg.ID, "", model.ScheduleStatusFailed, now, false, nextRun); err != nil {
		s.log.Errorw("failed to abort schedule run", "config_id", cfg.ID, "error", err)
	}
}

// HandleJobTerminal closes out the schedule run linked to a terminal
// compile job. Callbacks for deleted configs or superseded runs are no-ops.
func (s *ScheduleService) HandleJobTerminal(ctx context.Context, job *model.Job) {
	if job.Type != model.JobTypeVideoCompile || len(job.Metadata) == 0 {
		return
	}
	var meta model.CompileJobMetadata
	if err := json.Unmarshal(job.Metadata, &meta); err != nil || meta.ConfigID == "" {
		return
	}

	cfg, err := s.store.Get(ctx, meta.ConfigID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Debugw("terminal callback for deleted schedule", "config_id", meta.ConfigID, "job_id", job.ID)
		return
	}
	if err != nil {
		s.log.Errorw("failed to load schedule for terminal callback", "config_id", meta.ConfigID, "error", err)
		return
	}

	now := s.now()
	runStatus := model.ScheduleStatusFailed
	countRun := false
	if job.Status == model.JobStatusCompleted {
		runStatus = model.ScheduleStatusCompleted
		countRun = true
	}

	// next_run_time is computed from completion time, not from the run's
	// original due time, so delayed runs never stack a backlog.
	var nextRun *time.Time
	if cfg.Frequency != model.FrequencyNone {
		next := NextRunAfter(now, cfg.Frequency)
		nextRun = &next
	}

	switch err := s.store.FinishRun(ctx, meta.ConfigID, job.ID, runStatus, now, countRun, nextRun); {
	case errors.Is(err, store.ErrNotFound):
		s.log.Debugw("terminal callback for deleted schedule", "config_id", meta.ConfigID, "job_id", job.ID)
	case errors.Is(err, store.ErrConflict):
		s.log.Debugw("terminal callback for superseded run", "config_id", meta.ConfigID, "job_id", job.ID)
	case err != nil:
		s.log.Errorw("failed to finish schedule run", "config_id", meta.ConfigID, "error", err)
	default:
		s.log.Infow("schedule run finished",
			"config_id", meta.ConfigID, "job_id", job.ID, "status", runStatus, "next_run", nextRun)
	}
}

// NextRunAfter returns the next run time one frequency offset after t.
// Monthly preserves the day of month where valid and clamps to the month's
// length otherwise.
func NextRunAfter(t time.Time, freq model.Frequency) time.Time {
	switch freq {
	case model.FrequencyHourly:
		return t.Add(time.Hour)
	case model.FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case model.FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case model.FrequencyMonthly:
		return addMonthClamped(t)
	default:
		return t
	}
}

func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	// Day 0 of month+2 is the last day of month+1.
	lastDay := time.Date(year, month+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month+1, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
