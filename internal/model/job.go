package model

import (
	"encoding/json"
	"time"
)

// Job represents a single trackable execution record for one unit of
// background work. Job types are open tags; the payload shape is agreed
// between producer and executor, never interpreted by the core.
type Job struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId,omitempty"` // empty for system-level jobs
	Type        string          `json:"type"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	TotalItems  int             `json:"totalItems"`
	Message     string          `json:"message,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Cancelled   bool            `json:"cancelled"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Well-known job types. The store accepts any non-empty tag; these are the
// ones produced inside this service.
const (
	JobTypeNewsFetch     = "news_fetch"
	JobTypeAudioGenerate = "audio_generate"
	JobTypeVideoCompile  = "video_compile"
)

// CreateJobRequest creates a new job record. JobID is optional; when empty
// the server allocates one.
type CreateJobRequest struct {
	JobID    string          `json:"jobId" validate:"omitempty,max=128"`
	Type     string          `json:"jobType" validate:"required,max=64"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type CreateJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobProgressRequest is posted by executors while a job is running.
type JobProgressRequest struct {
	Progress   int    `json:"progress" validate:"min=0"`
	TotalItems int    `json:"totalItems" validate:"min=0"`
	Message    string `json:"message" validate:"omitempty,max=512"`
}

type JobCompleteRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

type JobFailRequest struct {
	Error string `json:"error" validate:"required,max=2048"`
}

// JobListQuery filters the tenant's job history. Results are ordered
// most-recent-first.
type JobListQuery struct {
	Type     string    `query:"jobType"`
	Status   JobStatus `query:"status"`
	Page     int       `query:"page"`
	PageSize int       `query:"pageSize"`
}

type JobListResponse struct {
	Jobs     []*Job `json:"jobs"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Total    int    `json:"total"`
}
