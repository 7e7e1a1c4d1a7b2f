package model

import "time"

// PreviewEntry maps a generation fingerprint to a previously synthesized
// artifact. At most one entry exists per (tenant, fingerprint).
type PreviewEntry struct {
	TenantID       string    `json:"tenantId"`
	Fingerprint    string    `json:"fingerprint"`
	ArtifactURL    string    `json:"artifactUrl"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

type PreviewRequest struct {
	Text     string `json:"text" validate:"required,max=5000"`
	Model    string `json:"model" validate:"required,max=64"`
	Voice    string `json:"voice" validate:"required,max=64"`
	Language string `json:"language" validate:"omitempty,max=8"`
}

type PreviewResponse struct {
	Status   string `json:"status"`
	AudioURL string `json:"audioUrl"`
	Cached   bool   `json:"cached"`
}
