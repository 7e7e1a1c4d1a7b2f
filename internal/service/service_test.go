package service

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/autoreel/api/internal/model"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// recordingHub captures broadcast calls for assertions.
type recordingHub struct {
	mu        sync.Mutex
	progress  []string
	completed []string
	errored   []string
}

func (h *recordingHub) BroadcastProgress(jobID string, progress, totalItems int, status model.JobStatus, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, jobID)
}

func (h *recordingHub) BroadcastComplete(jobID string, result interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, jobID)
}

func (h *recordingHub) BroadcastError(jobID, code, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errored = append(h.errored, jobID)
}

// fakeEnqueuer records enqueued compile tasks instead of touching asynq.
type fakeEnqueuer struct {
	mu     sync.Mutex
	jobIDs []string
	err    error
}

func (f *fakeEnqueuer) EnqueueCompile(ctx context.Context, jobID, configID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobIDs = append(f.jobIDs, jobID)
	return nil
}

func (f *fakeEnqueuer) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.jobIDs...)
}
