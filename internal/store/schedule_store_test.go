package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoreel/api/internal/model"
)

func newSchedule(id, tenant string, freq model.Frequency, nextRun *time.Time) *model.ScheduleConfig {
	return &model.ScheduleConfig{
		ID:          id,
		TenantID:    tenant,
		Title:       "Daily world news recap",
		Categories:  []string{"world", "politics"},
		Country:     "us",
		Language:    "en",
		ItemCount:   10,
		Frequency:   freq,
		Status:      model.ScheduleStatusPending,
		NextRunTime: nextRun,
		CreatedAt:   time.Now(),
	}
}

func TestScheduleStore_CreateAndGet(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()

	next := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyHourly, &next)))

	cfg, err := s.Get(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, model.FrequencyHourly, cfg.Frequency)
	assert.Equal(t, model.ScheduleStatusPending, cfg.Status)
	assert.Equal(t, []string{"world", "politics"}, cfg.Categories)
	require.NotNil(t, cfg.NextRunTime)
	assert.True(t, cfg.NextRunTime.Equal(next))
	assert.Equal(t, 0, cfg.RunCount)
}

func TestScheduleStore_ListDue(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	require.NoError(t, s.Create(ctx, newSchedule("due", "acme", model.FrequencyDaily, &past)))
	require.NoError(t, s.Create(ctx, newSchedule("later", "acme", model.FrequencyDaily, &future)))
	require.NoError(t, s.Create(ctx, newSchedule("manual", "acme", model.FrequencyNone, nil)))

	ids, err := s.ListDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, ids)
}

func TestScheduleStore_Claim_MutualExclusion(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyDaily, &past)))

	const ticks = 8
	var wg sync.WaitGroup
	errs := make([]error, ticks)
	for i := 0; i < ticks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Claim(ctx, "cfg-1", now)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins, "exactly one tick must claim the config")
	assert.Equal(t, ticks-1, conflicts)

	cfg, err := s.Get(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusProcessing, cfg.Status)
	assert.NotNil(t, cfg.MergeStartedAt)

	// Claimed config is no longer due.
	ids, err := s.ListDue(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestScheduleStore_Claim_DeletedConfigCleansDueEntry(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyDaily, &past)))
	require.NoError(t, s.rdb.Del(ctx, scheduleKey("cfg-1")).Err())

	assert.ErrorIs(t, s.Claim(ctx, "cfg-1", now), ErrNotFound)

	ids, err := s.ListDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestScheduleStore_FinishRun_Reschedules(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyDaily, &past)))
	require.NoError(t, s.Claim(ctx, "cfg-1", now))
	require.NoError(t, s.SetLinkedJob(ctx, "cfg-1", "job-1"))

	completion := now.Add(5 * time.Minute)
	next := completion.AddDate(0, 0, 1)
	require.NoError(t, s.FinishRun(ctx, "cfg-1", "job-1",
		model.ScheduleStatusCompleted, completion, true, &next))

	cfg, err := s.Get(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, cfg.Status)
	assert.Equal(t, model.ScheduleStatusCompleted, cfg.LastRunStatus)
	assert.Equal(t, 1, cfg.RunCount)
	assert.Empty(t, cfg.LinkedJobID)
	require.NotNil(t, cfg.NextRunTime)
	assert.True(t, cfg.NextRunTime.Equal(next))
	require.NotNil(t, cfg.LastRunTime)
	assert.True(t, cfg.LastRunTime.Equal(completion))

	// Re-armed in the due set for the next offset.
	ids, err := s.ListDue(ctx, next.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg-1"}, ids)
}

func TestScheduleStore_FinishRun_FailureDoesNotCount(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyNone, nil)))
	require.NoError(t, s.RunNow(ctx, "cfg-1"))
	require.NoError(t, s.Claim(ctx, "cfg-1", now))
	require.NoError(t, s.SetLinkedJob(ctx, "cfg-1", "job-1"))

	require.NoError(t, s.FinishRun(ctx, "cfg-1", "job-1",
		model.ScheduleStatusFailed, now, false, nil))

	cfg, err := s.Get(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusFailed, cfg.Status)
	assert.Equal(t, 0, cfg.RunCount)
	assert.Nil(t, cfg.NextRunTime)
}

func TestScheduleStore_FinishRun_WrongJobIsNoOp(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyDaily, &past)))
	require.NoError(t, s.Claim(ctx, "cfg-1", now))
	require.NoError(t, s.SetLinkedJob(ctx, "cfg-1", "job-current"))

	err := s.FinishRun(ctx, "cfg-1", "job-stale",
		model.ScheduleStatusCompleted, now, true, nil)
	assert.ErrorIs(t, err, ErrConflict)

	cfg, getErr := s.Get(ctx, "cfg-1")
	require.NoError(t, getErr)
	assert.Equal(t, model.ScheduleStatusProcessing, cfg.Status)
	assert.Equal(t, "job-current", cfg.LinkedJobID)
}

func TestScheduleStore_FinishRun_DeletedConfig(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyDaily, &past)))
	require.NoError(t, s.Claim(ctx, "cfg-1", now))
	require.NoError(t, s.SetLinkedJob(ctx, "cfg-1", "job-1"))
	require.NoError(t, s.Delete(ctx, "cfg-1"))

	err := s.FinishRun(ctx, "cfg-1", "job-1",
		model.ScheduleStatusCompleted, now, true, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduleStore_RunNow(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, newSchedule("cfg-1", "acme", model.FrequencyNone, nil)))

	// Not due until manually triggered.
	ids, err := s.ListDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.RunNow(ctx, "cfg-1"))

	ids, err = s.ListDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg-1"}, ids)

	// A processing config refuses another manual trigger.
	require.NoError(t, s.Claim(ctx, "cfg-1", now))
	assert.ErrorIs(t, s.RunNow(ctx, "cfg-1"), ErrConflict)
}

func TestScheduleStore_ListByTenant(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	ctx := context.Background()

	older := newSchedule("cfg-old", "acme", model.FrequencyDaily, nil)
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, older))
	require.NoError(t, s.Create(ctx, newSchedule("cfg-new", "acme", model.FrequencyDaily, nil)))
	require.NoError(t, s.Create(ctx, newSchedule("cfg-other", "globex", model.FrequencyDaily, nil)))

	configs, err := s.ListByTenant(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "cfg-new", configs[0].ID)
	assert.Equal(t, "cfg-old", configs[1].ID)
}

func TestScheduleStore_Delete_NotFound(t *testing.T) {
	s := NewScheduleStore(newTestRedis(t))
	assert.ErrorIs(t, s.Delete(context.Background(), "missing"), ErrNotFound)
}
