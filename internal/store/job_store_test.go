package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoreel/api/internal/model"
)

func newJob(id, tenant string) *model.Job {
	return &model.Job{
		ID:        id,
		TenantID:  tenant,
		Type:      model.JobTypeVideoCompile,
		Status:    model.JobStatusPending,
		CreatedAt: time.Now(),
	}
}

func TestJobStore_CreateAndGet(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newJob("job-1", "acme")))

	job, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "acme", job.TenantID)
	assert.False(t, job.Cancelled)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
}

func TestJobStore_Get_NotFound(t *testing.T) {
	s := NewJobStore(newTestRedis(t))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStore_Create_DuplicateID(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newJob("job-1", "acme")))
	assert.ErrorIs(t, s.Create(ctx, newJob("job-1", "acme")), ErrDuplicateID)
}

func TestJobStore_Create_ConcurrentSameID(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(ctx, newJob("contested", "acme"))
		}(i)
	}
	wg.Wait()

	var wins, dups int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, ErrDuplicateID):
			dups++
		}
	}
	assert.Equal(t, 1, wins, "exactly one create must win")
	assert.Equal(t, callers-1, dups)
}

func TestJobStore_Transition_StartTwice(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job-1", "acme")))

	start := func() error {
		return s.Transition(ctx, "job-1",
			[]model.JobStatus{model.JobStatusPending},
			model.JobStatusRunning,
			map[string]string{"started_at": time.Now().Format(time.RFC3339Nano)})
	}

	require.NoError(t, start())
	assert.ErrorIs(t, start(), ErrInvalidTransition)

	job, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)
}

func TestJobStore_Transition_NotFound(t *testing.T) {
	s := NewJobStore(newTestRedis(t))

	err := s.Transition(context.Background(), "missing",
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusRunning, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStore_UpdateProgress(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job-1", "acme")))

	// Only running jobs accept progress.
	assert.ErrorIs(t, s.UpdateProgress(ctx, "job-1", 1, 10, "step"), ErrInvalidTransition)

	require.NoError(t, s.Transition(ctx, "job-1",
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusRunning, nil))

	require.NoError(t, s.UpdateProgress(ctx, "job-1", 4, 10, "halfway-ish"))

	// Regressive and out-of-range updates are rejected, state unchanged.
	assert.ErrorIs(t, s.UpdateProgress(ctx, "job-1", 3, 10, "backwards"), ErrInvalidProgress)
	assert.ErrorIs(t, s.UpdateProgress(ctx, "job-1", 11, 10, "overshoot"), ErrInvalidProgress)

	job, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 4, job.Progress)
	assert.Equal(t, 10, job.TotalItems)
	assert.Equal(t, "halfway-ish", job.Message)
}

func TestJobStore_CancelledJobRejectsProgress(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job-1", "acme")))
	require.NoError(t, s.Transition(ctx, "job-1",
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusRunning, nil))

	require.NoError(t, s.Transition(ctx, "job-1",
		[]model.JobStatus{model.JobStatusPending, model.JobStatusRunning},
		model.JobStatusCancelled,
		map[string]string{"cancelled": "1"}))

	assert.ErrorIs(t, s.UpdateProgress(ctx, "job-1", 1, 10, "step"), ErrInvalidTransition)

	job, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, job.Status)
	assert.True(t, job.Cancelled)
}

func TestJobStore_TerminalStatesAreImmutable(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job-1", "acme")))
	require.NoError(t, s.Transition(ctx, "job-1",
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusRunning, nil))
	require.NoError(t, s.Transition(ctx, "job-1",
		[]model.JobStatus{model.JobStatusRunning}, model.JobStatusCompleted, nil))

	err := s.Transition(ctx, "job-1",
		[]model.JobStatus{model.JobStatusPending, model.JobStatusRunning},
		model.JobStatusCancelled, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJobStore_List(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		job := newJob(fmt.Sprintf("job-%d", i), "acme")
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 1 {
			job.Type = model.JobTypeNewsFetch
		}
		require.NoError(t, s.Create(ctx, job))
	}
	// Another tenant's job must stay invisible.
	require.NoError(t, s.Create(ctx, newJob("other", "globex")))

	jobs, total, err := s.List(ctx, "acme", "", "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, jobs, 5)
	// Most recent first.
	assert.Equal(t, "job-4", jobs[0].ID)
	assert.Equal(t, "job-0", jobs[4].ID)

	// Type filter.
	jobs, total, err = s.List(ctx, "acme", model.JobTypeNewsFetch, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, job := range jobs {
		assert.Equal(t, model.JobTypeNewsFetch, job.Type)
	}

	// Pagination.
	jobs, total, err = s.List(ctx, "acme", "", "", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].ID)

	// Page past the end.
	jobs, _, err = s.List(ctx, "acme", "", "", 9, 2)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobStore_List_StatusFilter(t *testing.T) {
	s := NewJobStore(newTestRedis(t))
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newJob("a", "acme")))
	require.NoError(t, s.Create(ctx, newJob("b", "acme")))
	require.NoError(t, s.Transition(ctx, "b",
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusRunning, nil))

	jobs, total, err := s.List(ctx, "acme", "", model.JobStatusRunning, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].ID)
}
