package model

import "time"

// ScheduleConfig is a user-defined recurring compilation setup. The engine
// turns it into concrete video_compile jobs on its cadence, one active run
// at a time.
type ScheduleConfig struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenantId"`
	Title            string         `json:"title"`
	Categories       []string       `json:"categories,omitempty"`
	Country          string         `json:"country,omitempty"`
	Language         string         `json:"language,omitempty"`
	ItemCount        int            `json:"itemCount"`
	Frequency        Frequency      `json:"frequency"`
	Status           ScheduleStatus `json:"status"`
	LastRunStatus    ScheduleStatus `json:"lastRunStatus,omitempty"`
	LastRunTime      *time.Time     `json:"lastRunTime,omitempty"`
	NextRunTime      *time.Time     `json:"nextRunTime,omitempty"`
	RunCount         int            `json:"runCount"`
	MergeStartedAt   *time.Time     `json:"mergeStartedAt,omitempty"`
	MergeCompletedAt *time.Time     `json:"mergeCompletedAt,omitempty"`
	LinkedJobID      string         `json:"linkedJobId,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

type CreateScheduleRequest struct {
	Title      string    `json:"title" validate:"required,max=200"`
	Categories []string  `json:"categories" validate:"omitempty,max=20,dive,max=64"`
	Country    string    `json:"country" validate:"omitempty,len=2"`
	Language   string    `json:"language" validate:"omitempty,max=8"`
	ItemCount  int       `json:"itemCount" validate:"min=1,max=100"`
	Frequency  Frequency `json:"frequency" validate:"required,oneof=none hourly daily weekly monthly"`
}

type CreateScheduleResponse struct {
	ConfigID    string         `json:"configId"`
	Status      ScheduleStatus `json:"status"`
	NextRunTime *time.Time     `json:"nextRunTime,omitempty"`
}

type RunNowResponse struct {
	ConfigID  string `json:"configId"`
	Triggered bool   `json:"triggered"`
}

type ScheduleListResponse struct {
	Schedules []*ScheduleConfig `json:"schedules"`
}

// CompileJobMetadata is the opaque metadata attached to jobs created by the
// schedule engine; the completion callback uses ConfigID to find its way
// back to the config.
type CompileJobMetadata struct {
	ConfigID string `json:"configId"`
}
