package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/store"
)

type recordingListener struct {
	jobs []*model.Job
}

func (l *recordingListener) HandleJobTerminal(ctx context.Context, job *model.Job) {
	l.jobs = append(l.jobs, job)
}

func newJobService(t *testing.T) (*JobService, *recordingHub) {
	t.Helper()
	hub := &recordingHub{}
	svc := NewJobService(store.NewJobStore(newTestRedis(t)), hub, testLogger())
	return svc, hub
}

func TestJobService_Lifecycle(t *testing.T) {
	svc, hub := newJobService(t)
	listener := &recordingListener{}
	svc.SetTerminalListener(listener)
	ctx := context.Background()

	job, err := svc.Create(ctx, "acme", &model.CreateJobRequest{Type: model.JobTypeAudioGenerate})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	require.NoError(t, svc.Start(ctx, job.ID))
	require.NoError(t, svc.UpdateProgress(ctx, job.ID, &model.JobProgressRequest{
		Progress: 3, TotalItems: 10, Message: "rendering",
	}))

	result := json.RawMessage(`{"videoUrl":"https://cdn.example.com/v/1.mp4"}`)
	require.NoError(t, svc.Complete(ctx, job.ID, result))

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.JSONEq(t, string(result), string(got.Result))
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	require.Len(t, listener.jobs, 1)
	assert.Equal(t, job.ID, listener.jobs[0].ID)
	assert.Contains(t, hub.completed, job.ID)
}

func TestJobService_Create_CallerSuppliedID(t *testing.T) {
	svc, _ := newJobService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "acme", &model.CreateJobRequest{
		JobID: "idempotency-key-1",
		Type:  model.JobTypeNewsFetch,
	})
	require.NoError(t, err)
	assert.Equal(t, "idempotency-key-1", job.ID)

	_, err = svc.Create(ctx, "acme", &model.CreateJobRequest{
		JobID: "idempotency-key-1",
		Type:  model.JobTypeNewsFetch,
	})
	assert.ErrorIs(t, err, store.ErrDuplicateID)
}

func TestJobService_Start_Twice(t *testing.T) {
	svc, _ := newJobService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "acme", &model.CreateJobRequest{Type: model.JobTypeVideoCompile})
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx, job.ID))
	assert.ErrorIs(t, svc.Start(ctx, job.ID), store.ErrInvalidTransition)
}

func TestJobService_Fail_RecordsError(t *testing.T) {
	svc, hub := newJobService(t)
	listener := &recordingListener{}
	svc.SetTerminalListener(listener)
	ctx := context.Background()

	job, err := svc.Create(ctx, "acme", &model.CreateJobRequest{Type: model.JobTypeVideoCompile})
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, job.ID))
	require.NoError(t, svc.Fail(ctx, job.ID, "renderer crashed"))

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "renderer crashed", *got.Error)

	require.Len(t, listener.jobs, 1)
	assert.Contains(t, hub.errored, job.ID)
}

func TestJobService_Cancel_BlocksFurtherProgress(t *testing.T) {
	svc, _ := newJobService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "acme", &model.CreateJobRequest{Type: model.JobTypeVideoCompile})
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, job.ID))
	require.NoError(t, svc.Cancel(ctx, job.ID))

	err = svc.UpdateProgress(ctx, job.ID, &model.JobProgressRequest{Progress: 1, TotalItems: 5})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// A second cancel is rejected; the job already left pending/running.
	assert.ErrorIs(t, svc.Cancel(ctx, job.ID), store.ErrInvalidTransition)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.True(t, got.Cancelled)
}

func TestJobService_List_Defaults(t *testing.T) {
	svc, _ := newJobService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, "acme", &model.CreateJobRequest{Type: model.JobTypeNewsFetch})
		require.NoError(t, err)
	}

	resp, err := svc.List(ctx, "acme", &model.JobListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PageSize)
	assert.Len(t, resp.Jobs, 3)
}
