package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autoreel/api/internal/model"
)

const scheduleDueKey = "schedules:due"

// ScheduleStore persists schedule configs as Redis hashes with a tenant
// membership set and a global due-time sorted set driving the scheduler
// scan. Claiming and finishing runs are Lua scripts: the claim is the
// compare-and-set that guarantees at most one active run per config, no
// matter how many ticker instances race over the same candidate.
type ScheduleStore struct {
	rdb *redis.Client
}

func NewScheduleStore(rdb *redis.Client) *ScheduleStore {
	return &ScheduleStore{rdb: rdb}
}

func scheduleKey(id string) string {
	return fmt.Sprintf("schedule:%s", id)
}

func scheduleTenantKey(tenantID string) string {
	return fmt.Sprintf("schedules:tenant:%s", tenantID)
}

var createScheduleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('SADD', KEYS[2], ARGV[2])
if ARGV[1] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
end
return 1
`)

// claimScheduleScript is the mutual-exclusion gate: it flips the config to
// processing only if no run is currently active and removes it from the due
// set so other ticks skip it. A claim on a config deleted mid-scan just
// clears the stale due entry.
var claimScheduleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return -1
end
if redis.call('HGET', KEYS[1], 'status') == 'processing' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'processing')
redis.call('HSET', KEYS[1], 'merge_started_at', ARGV[2])
redis.call('HSET', KEYS[1], 'linked_job_id', '')
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// finishRunScript records the outcome of the linked job and either
// reschedules (frequency set) or parks the config in its terminal status.
// The linked-job check makes late callbacks for superseded or deleted runs
// harmless no-ops.
var finishRunScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'linked_job_id') ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'last_run_status', ARGV[3])
redis.call('HSET', KEYS[1], 'last_run_time', ARGV[4])
redis.call('HSET', KEYS[1], 'merge_completed_at', ARGV[4])
redis.call('HSET', KEYS[1], 'linked_job_id', '')
if ARGV[5] == '1' then
  redis.call('HINCRBY', KEYS[1], 'run_count', 1)
end
if ARGV[6] ~= '' then
  redis.call('HSET', KEYS[1], 'status', 'pending')
  redis.call('HSET', KEYS[1], 'next_run_time', ARGV[6])
  redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
else
  redis.call('HSET', KEYS[1], 'status', ARGV[3])
  redis.call('HSET', KEYS[1], 'next_run_time', '')
end
return 1
`)

// runNowScript marks the config due immediately. The tick still has to win
// the claim, so a manual trigger can never overlap an active run.
var runNowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') == 'processing' then
  return 0
end
redis.call('ZADD', KEYS[2], 0, ARGV[1])
return 1
`)

func (s *ScheduleStore) Create(ctx context.Context, cfg *model.ScheduleConfig) error {
	score := ""
	if cfg.NextRunTime != nil {
		score = strconv.FormatInt(cfg.NextRunTime.Unix(), 10)
	}
	fields := scheduleToFields(cfg)
	args := make([]interface{}, 0, 2+len(fields)*2)
	args = append(args, score, cfg.ID)
	for k, v := range fields {
		args = append(args, k, v)
	}

	res, err := createScheduleScript.Run(ctx, s.rdb,
		[]string{scheduleKey(cfg.ID), scheduleTenantKey(cfg.TenantID), scheduleDueKey},
		args...).Int()
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	if res == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *ScheduleStore) Get(ctx context.Context, configID string) (*model.ScheduleConfig, error) {
	data, err := s.rdb.HGetAll(ctx, scheduleKey(configID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return scheduleFromFields(data), nil
}

// ListByTenant returns the tenant's configs, newest first.
func (s *ScheduleStore) ListByTenant(ctx context.Context, tenantID string) ([]*model.ScheduleConfig, error) {
	ids, err := s.rdb.SMembers(ctx, scheduleTenantKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	configs := make([]*model.ScheduleConfig, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.HGetAll(ctx, scheduleKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("list schedules: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		configs = append(configs, scheduleFromFields(data))
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].CreatedAt.After(configs[j].CreatedAt)
	})
	return configs, nil
}

// ListDue returns ids of configs whose next run time (or manual trigger)
// is at or before now.
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, scheduleDueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return ids, nil
}

// Claim attempts to take exclusive ownership of the config for one run.
// ErrConflict means another tick already holds it.
func (s *ScheduleStore) Claim(ctx context.Context, configID string, now time.Time) error {
	res, err := claimScheduleScript.Run(ctx, s.rdb,
		[]string{scheduleKey(configID), scheduleDueKey},
		configID, now.Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("claim schedule: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrConflict
	}
	return nil
}

// SetLinkedJob records the job created for the claimed run. Only the claim
// holder calls this.
func (s *ScheduleStore) SetLinkedJob(ctx context.Context, configID, jobID string) error {
	if err := s.rdb.HSet(ctx, scheduleKey(configID), "linked_job_id", jobID).Err(); err != nil {
		return fmt.Errorf("set linked job: %w", err)
	}
	return nil
}

// FinishRun closes out a run. jobID must match the currently linked job
// ("" for a claim that never produced one). nextRun nil leaves the config
// in its terminal status; otherwise it is re-armed as pending.
func (s *ScheduleStore) FinishRun(ctx context.Context, configID, jobID string, runStatus model.ScheduleStatus, now time.Time, countRun bool, nextRun *time.Time) error {
	nextVal, nextScore := "", ""
	if nextRun != nil {
		nextVal = nextRun.Format(time.RFC3339Nano)
		nextScore = strconv.FormatInt(nextRun.Unix(), 10)
	}
	incr := "0"
	if countRun {
		incr = "1"
	}

	res, err := finishRunScript.Run(ctx, s.rdb,
		[]string{scheduleKey(configID), scheduleDueKey},
		configID, jobID, string(runStatus), now.Format(time.RFC3339Nano),
		incr, nextVal, nextScore).Int()
	if err != nil {
		return fmt.Errorf("finish schedule run: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrConflict
	}
	return nil
}

// RunNow flags the config for immediate pickup by the next tick.
func (s *ScheduleStore) RunNow(ctx context.Context, configID string) error {
	res, err := runNowScript.Run(ctx, s.rdb,
		[]string{scheduleKey(configID), scheduleDueKey}, configID).Int()
	if err != nil {
		return fmt.Errorf("run-now schedule: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrConflict
	}
	return nil
}

// Delete removes the config and its index entries. An in-flight linked job
// is left to finish; its completion callback will no-op against the missing
// config.
func (s *ScheduleStore) Delete(ctx context.Context, configID string) error {
	cfg, err := s.Get(ctx, configID)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, scheduleKey(configID))
	pipe.SRem(ctx, scheduleTenantKey(cfg.TenantID), configID)
	pipe.ZRem(ctx, scheduleDueKey, configID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

func scheduleToFields(cfg *model.ScheduleConfig) map[string]string {
	categories, _ := json.Marshal(cfg.Categories)
	return map[string]string{
		"id":                 cfg.ID,
		"tenant_id":          cfg.TenantID,
		"title":              cfg.Title,
		"categories":         string(categories),
		"country":            cfg.Country,
		"language":           cfg.Language,
		"item_count":         strconv.Itoa(cfg.ItemCount),
		"frequency":          string(cfg.Frequency),
		"status":             string(cfg.Status),
		"last_run_status":    string(cfg.LastRunStatus),
		"last_run_time":      timeField(cfg.LastRunTime),
		"next_run_time":      timeField(cfg.NextRunTime),
		"run_count":          strconv.Itoa(cfg.RunCount),
		"merge_started_at":   timeField(cfg.MergeStartedAt),
		"merge_completed_at": timeField(cfg.MergeCompletedAt),
		"linked_job_id":      cfg.LinkedJobID,
		"created_at":         cfg.CreatedAt.Format(time.RFC3339Nano),
	}
}

func scheduleFromFields(data map[string]string) *model.ScheduleConfig {
	cfg := &model.ScheduleConfig{
		ID:               data["id"],
		TenantID:         data["tenant_id"],
		Title:            data["title"],
		Country:          data["country"],
		Language:         data["language"],
		Frequency:        model.Frequency(data["frequency"]),
		Status:           model.ScheduleStatus(data["status"]),
		LastRunStatus:    model.ScheduleStatus(data["last_run_status"]),
		LastRunTime:      parseTimePtr(data["last_run_time"]),
		NextRunTime:      parseTimePtr(data["next_run_time"]),
		MergeStartedAt:   parseTimePtr(data["merge_started_at"]),
		MergeCompletedAt: parseTimePtr(data["merge_completed_at"]),
		LinkedJobID:      data["linked_job_id"],
		CreatedAt:        parseTime(data["created_at"]),
	}
	cfg.ItemCount, _ = strconv.Atoi(data["item_count"])
	cfg.RunCount, _ = strconv.Atoi(data["run_count"])
	if v := data["categories"]; v != "" {
		_ = json.Unmarshal([]byte(v), &cfg.Categories)
	}
	return cfg
}
