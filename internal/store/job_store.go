package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autoreel/api/internal/model"
)

// JobStore persists job instances as Redis hashes, one per job, with a
// per-tenant sorted-set index ordered by creation time. Every mutation is a
// single Lua script so status transitions behave as atomic compare-and-set
// operations under concurrent callers. Records are never deleted; the job
// table is the audit history.
type JobStore struct {
	rdb *redis.Client
}

func NewJobStore(rdb *redis.Client) *JobStore {
	return &JobStore{rdb: rdb}
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

// jobIndexKey returns the tenant index. System-level jobs (empty tenant)
// live under a dedicated index.
func jobIndexKey(tenantID string) string {
	if tenantID == "" {
		return "jobs:system"
	}
	return fmt.Sprintf("jobs:tenant:%s", tenantID)
}

// createJobScript writes the job hash and its tenant index entry only if
// the id is unused. Returns 0 when the id already exists.
var createJobScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// transitionJobScript applies field updates only if the current status is
// one of the expected values. ARGV[1] is the number of expected statuses,
// ARGV[2..n+1] the statuses, the remainder field/value pairs (including the
// new status). Returns -1 unknown id, 0 transition rejected, 1 applied.
var transitionJobScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = redis.call('HGET', KEYS[1], 'status')
local n = tonumber(ARGV[1])
local allowed = false
for i = 2, n + 1 do
  if cur == ARGV[i] then
    allowed = true
  end
end
if not allowed then
  return 0
end
for i = n + 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// progressJobScript enforces the running-only, monotonic progress contract.
// Returns -1 unknown id, 0 not running, -2 regressive/out-of-range, 1 applied.
var progressJobScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then
  return 0
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local p = tonumber(ARGV[1])
local total = tonumber(ARGV[2])
if p < cur then
  return -2
end
if total > 0 and p > total then
  return -2
end
redis.call('HSET', KEYS[1], 'progress', ARGV[1])
redis.call('HSET', KEYS[1], 'total_items', ARGV[2])
redis.call('HSET', KEYS[1], 'message', ARGV[3])
return 1
`)

// Create persists a new job record. The job must carry a unique id; callers
// colliding on an id get ErrDuplicateID.
func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	fields := jobToFields(job)
	args := make([]interface{}, 0, 2+len(fields)*2)
	args = append(args, job.CreatedAt.UnixNano(), job.ID)
	for k, v := range fields {
		args = append(args, k, v)
	}

	res, err := createJobScript.Run(ctx, s.rdb,
		[]string{jobKey(job.ID), jobIndexKey(job.TenantID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if res == 0 {
		return ErrDuplicateID
	}
	return nil
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return jobFromFields(data), nil
}

// Transition atomically moves the job to a new status, applying extra field
// updates in the same operation, only if the current status is one of from.
func (s *JobStore) Transition(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus, fields map[string]string) error {
	args := make([]interface{}, 0, 3+len(from)+len(fields)*2)
	args = append(args, len(from))
	for _, st := range from {
		args = append(args, string(st))
	}
	args = append(args, "status", string(to))
	for k, v := range fields {
		args = append(args, k, v)
	}

	res, err := transitionJobScript.Run(ctx, s.rdb, []string{jobKey(jobID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrInvalidTransition
	}
	return nil
}

// UpdateProgress records executor progress. Only running jobs accept
// updates; regressive or out-of-range values are rejected outright, there
// is no implicit reset.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress, totalItems int, message string) error {
	res, err := progressJobScript.Run(ctx, s.rdb, []string{jobKey(jobID)},
		progress, totalItems, message).Int()
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrInvalidTransition
	case -2:
		return ErrInvalidProgress
	}
	return nil
}

// List returns the tenant's jobs most-recent-first, optionally filtered by
// type and status, with page starting at 1.
func (s *JobStore) List(ctx context.Context, tenantID, jobType string, status model.JobStatus, page, pageSize int) ([]*model.Job, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ids, err := s.rdb.ZRevRange(ctx, jobIndexKey(tenantID), 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	var matched []*model.Job
	for _, id := range ids {
		data, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("list jobs: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		job := jobFromFields(data)
		if jobType != "" && job.Type != jobType {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		matched = append(matched, job)
	}

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []*model.Job{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func jobToFields(job *model.Job) map[string]string {
	fields := map[string]string{
		"id":           job.ID,
		"tenant_id":    job.TenantID,
		"type":         job.Type,
		"status":       string(job.Status),
		"progress":     strconv.Itoa(job.Progress),
		"total_items":  strconv.Itoa(job.TotalItems),
		"message":      job.Message,
		"cancelled":    boolField(job.Cancelled),
		"created_at":   job.CreatedAt.Format(time.RFC3339Nano),
		"started_at":   timeField(job.StartedAt),
		"completed_at": timeField(job.CompletedAt),
	}
	if job.Error != nil {
		fields["error"] = *job.Error
	}
	if len(job.Metadata) > 0 {
		fields["metadata"] = string(job.Metadata)
	}
	if len(job.Result) > 0 {
		fields["result"] = string(job.Result)
	}
	return fields
}

func jobFromFields(data map[string]string) *model.Job {
	job := &model.Job{
		ID:          data["id"],
		TenantID:    data["tenant_id"],
		Type:        data["type"],
		Status:      model.JobStatus(data["status"]),
		Message:     data["message"],
		Cancelled:   data["cancelled"] == "1",
		CreatedAt:   parseTime(data["created_at"]),
		StartedAt:   parseTimePtr(data["started_at"]),
		CompletedAt: parseTimePtr(data["completed_at"]),
	}
	job.Progress, _ = strconv.Atoi(data["progress"])
	job.TotalItems, _ = strconv.Atoi(data["total_items"])
	if v, ok := data["error"]; ok && v != "" {
		job.Error = &v
	}
	if v := data["metadata"]; v != "" {
		job.Metadata = json.RawMessage(v)
	}
	if v := data["result"]; v != "" {
		job.Result = json.RawMessage(v)
	}
	return job
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
