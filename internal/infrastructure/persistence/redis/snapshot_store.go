package redis

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

// KeyPrefix namespaces every key the bridge writes.
const KeyPrefix = "stopfinder:"

// DefaultSnapshotTTL is used when the store is created with a zero TTL.
const DefaultSnapshotTTL = 7 * 24 * time.Hour

// SnapshotKey returns the key for an account's snapshot. The account id is
// hashed so email addresses never appear in Redis.
func SnapshotKey(accountID string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(strings.TrimSpace(accountID))))
	return KeyPrefix + "snapshot:" + hex.EncodeToString(sum[:16])
}

// SnapshotStore implements schedule.SnapshotRepository on Redis.
type SnapshotStore struct {
	cache *Cache
	ttl   time.Duration
}

var _ schedule.SnapshotRepository = (*SnapshotStore)(nil)

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore(cache *Cache, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{cache: cache, ttl: ttl}
}

// SaveSnapshot replaces the stored snapshot and refreshes its TTL.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snapshot *schedule.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	if snapshot.AccountID == "" {
		return fmt.Errorf("%w: snapshot without account", shared.ErrValidation)
	}
	if err := s.cache.Set(ctx, SnapshotKey(snapshot.AccountID), snapshot, s.ttl); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot or shared.ErrNotFound.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, accountID string) (*schedule.Snapshot, error) {
	var snapshot schedule.Snapshot
	err := s.cache.Get(ctx, SnapshotKey(accountID), &snapshot)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return nil, shared.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snapshot, nil
}
