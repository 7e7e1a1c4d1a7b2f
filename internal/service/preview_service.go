package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autoreel/api/internal/metrics"
	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/store"
)

var (
	// ErrGenerationFailed wraps an opaque failure from the external
	// synthesis service.
	ErrGenerationFailed = errors.New("preview generation failed")

	// ErrGenerationBusy means another caller held the generation lock for
	// the full wait window and no entry appeared.
	ErrGenerationBusy = errors.New("preview generation still in progress")
)

// Generator synthesizes one audio preview and returns the artifact URL.
// The audio client implements it.
type Generator interface {
	Synthesize(ctx context.Context, req *model.PreviewRequest) (string, error)
}

// PreviewOptions tune the per-fingerprint lock behavior.
type PreviewOptions struct {
	LockTTL      time.Duration // generation lock lifetime
	LockWait     time.Duration // how long a concurrent caller waits for the holder
	PollInterval time.Duration // cache re-check cadence while waiting
}

func (o *PreviewOptions) setDefaults() {
	if o.LockTTL <= 0 {
		o.LockTTL = time.Minute
	}
	if o.LockWait <= 0 {
		o.LockWait = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
}

// PreviewService is the fingerprint-keyed preview cache. It guarantees at
// most one synthesis call in flight per (tenant, fingerprint): the first
// caller to take the Redis lock generates, everyone else waits on the same
// key and short-circuits to a cache hit once the entry lands. Unrelated
// fingerprints never contend.
type PreviewService struct {
	store     *store.PreviewStore
	generator Generator
	opts      PreviewOptions
	log       *zap.SugaredLogger
}

func NewPreviewService(previewStore *store.PreviewStore, generator Generator, opts PreviewOptions, log *zap.SugaredLogger) *PreviewService {
	opts.setDefaults()
	return &PreviewService{
		store:     previewStore,
		generator: generator,
		opts:      opts,
		log:       log,
	}
}

// Fingerprint derives the deterministic cache key: the text is trimmed,
// inner whitespace collapsed and case-folded so semantically identical
// requests collide, then hashed together with voice, model and language.
func Fingerprint(text, voice, modelID, language string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	h := sha256.New()
	for _, part := range []string{normalized, voice, modelID, language} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the cached artifact URL for the fingerprint, if any.
func (s *PreviewService) Lookup(ctx context.Context, tenantID, fingerprint string) (string, error) {
	entry, err := s.store.Get(ctx, tenantID, fingerprint)
	if err != nil {
		return "", err
	}
	return entry.ArtifactURL, nil
}

// GetOrGenerate returns the preview artifact for the request, generating it
// through the external service only when no cached entry exists. cached is
// false only for the caller whose generator invocation produced the entry.
func (s *PreviewService) GetOrGenerate(ctx context.Context, tenantID string, req *model.PreviewRequest) (artifactURL string, cached bool, err error) {
	fingerprint := Fingerprint(req.Text, req.Voice, req.Model, req.Language)

	if url, err := s.Lookup(ctx, tenantID, fingerprint); err == nil {
		metrics.PreviewLookups.WithLabelValues("hit").Inc()
		return url, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}
	metrics.PreviewLookups.WithLabelValues("miss").Inc()

	token := uuid.New().String()
	deadline := time.Now().Add(s.opts.LockWait)

	for {
		acquired, err := s.store.AcquireLock(ctx, tenantID, fingerprint, token, s.opts.LockTTL)
		if err != nil {
			return "", false, err
		}
		if acquired {
			return s.generate(ctx, tenantID, fingerprint, token, req)
		}

		// Another caller is generating the same fingerprint. Wait for the
		// entry instead of issuing a duplicate synthesis call.
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}

		if url, err := s.Lookup(ctx, tenantID, fingerprint); err == nil {
			metrics.PreviewLookups.WithLabelValues("hit").Inc()
			return url, true, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", false, err
		}

		if time.Now().After(deadline) {
			return "", false, ErrGenerationBusy
		}
	}
}

func (s *PreviewService) generate(ctx context.Context, tenantID, fingerprint, token string, req *model.PreviewRequest) (string, bool, error) {
	defer func() {
		if err := s.store.ReleaseLock(ctx, tenantID, fingerprint, token); err != nil {
			s.log.Warnw("failed to release preview lock", "fingerprint", fingerprint, "error", err)
		}
	}()

	// Double-check under the lock: a previous holder may have populated the
	// entry between our miss and the acquire.
	if url, err := s.Lookup(ctx, tenantID, fingerprint); err == nil {
		return url, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}

	started := time.Now()
	url, err := s.generator.Synthesize(ctx, req)
	metrics.PreviewGenerationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return "", false, fmt.Errorf("%w: %s", ErrGenerationFailed, err.Error())
	}

	now := time.Now()
	entry := &model.PreviewEntry{
		TenantID:       tenantID,
		Fingerprint:    fingerprint,
		ArtifactURL:    url,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := s.store.Put(ctx, entry); err != nil {
		return "", false, err
	}

	s.log.Infow("preview generated",
		"tenant_id", tenantID, "fingerprint", fingerprint, "voice", req.Voice, "model", req.Model)
	return url, false, nil
}
