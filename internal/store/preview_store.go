package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autoreel/api/internal/model"
)

// PreviewStore persists fingerprint-keyed preview artifacts per tenant and
// provides the per-fingerprint lock used to keep expensive synthesis calls
// to at most one in flight per unique input.
type PreviewStore struct {
	rdb *redis.Client
}

func NewPreviewStore(rdb *redis.Client) *PreviewStore {
	return &PreviewStore{rdb: rdb}
}

func previewKey(tenantID, fingerprint string) string {
	return fmt.Sprintf("preview:%s:%s", tenantID, fingerprint)
}

func previewLockKey(tenantID, fingerprint string) string {
	return fmt.Sprintf("preview-lock:%s:%s", tenantID, fingerprint)
}

// releaseLockScript deletes the lock only if the caller still owns it, so a
// slow holder cannot release a lock that expired and was re-acquired.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Get returns the cached entry, touching last_accessed_at on a hit.
func (s *PreviewStore) Get(ctx context.Context, tenantID, fingerprint string) (*model.PreviewEntry, error) {
	key := previewKey(tenantID, fingerprint)
	data, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get preview entry: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	now := time.Now()
	if err := s.rdb.HSet(ctx, key, "last_accessed_at", now.Format(time.RFC3339Nano)).Err(); err != nil {
		return nil, fmt.Errorf("touch preview entry: %w", err)
	}

	return &model.PreviewEntry{
		TenantID:       tenantID,
		Fingerprint:    fingerprint,
		ArtifactURL:    data["artifact_url"],
		CreatedAt:      parseTime(data["created_at"]),
		LastAccessedAt: now,
	}, nil
}

// Put writes the entry. Last writer wins; callers hold the fingerprint lock
// so in practice there is exactly one writer per key.
func (s *PreviewStore) Put(ctx context.Context, entry *model.PreviewEntry) error {
	err := s.rdb.HSet(ctx, previewKey(entry.TenantID, entry.Fingerprint), map[string]interface{}{
		"artifact_url":     entry.ArtifactURL,
		"created_at":       entry.CreatedAt.Format(time.RFC3339Nano),
		"last_accessed_at": entry.LastAccessedAt.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("put preview entry: %w", err)
	}
	return nil
}

// AcquireLock takes the per-fingerprint generation lock. Returns false when
// another caller holds it.
func (s *PreviewStore) AcquireLock(ctx context.Context, tenantID, fingerprint, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, previewLockKey(tenantID, fingerprint), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire preview lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the lock if token still owns it.
func (s *PreviewStore) ReleaseLock(ctx context.Context, tenantID, fingerprint, token string) error {
	if err := releaseLockScript.Run(ctx, s.rdb,
		[]string{previewLockKey(tenantID, fingerprint)}, token).Err(); err != nil {
		return fmt.Errorf("release preview lock: %w", err)
	}
	return nil
}
