package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/autoreel/api/internal/config"
	"github.com/autoreel/api/internal/model"
)

// AudioClient talks to the external voice-synthesis service. When no
// service URL is configured it falls back to deterministic mock responses
// so the rest of the pipeline stays exercisable in development.
type AudioClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type synthesizeResponse struct {
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
}

func NewAudioClient(cfg *config.AudioConfig) *AudioClient {
	return &AudioClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
	}
}

// IsConfigured reports whether a real synthesis backend is set up.
func (c *AudioClient) IsConfigured() bool {
	return c.baseURL != ""
}

// Synthesize renders the preview text to audio and returns the artifact URL.
func (c *AudioClient) Synthesize(ctx context.Context, req *model.PreviewRequest) (string, error) {
	if !c.IsConfigured() {
		return c.mockSynthesize(), nil
	}

	var result synthesizeResponse
	err := c.post(ctx, "/v1/synthesize", &synthesizeRequest{
		Text:     req.Text,
		Voice:    req.Voice,
		Model:    req.Model,
		Language: req.Language,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.AudioURL, nil
}

func (c *AudioClient) mockSynthesize() string {
	// Simulate synthesis latency so concurrent-caller behavior is realistic
	// in development.
	time.Sleep(50 * time.Millisecond)
	return fmt.Sprintf("https://cdn.autoreel.io/previews/%s.mp3", uuid.New().String())
}

func (c *AudioClient) post(ctx context.Context, path string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("audio service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("audio service returned %d: %s", resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode audio service response: %w", err)
	}
	return nil
}
