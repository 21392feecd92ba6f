package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/kpdex/internal/db"
	"github.com/kailas-cloud/kpdex/internal/domain"
)

// kvStore is the consumer interface for the redis snapshot store (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
}

// RedisStore keeps each snapshot under its own key plus a sorted manifest.
// The blob is written before it is listed, so readers never see a partial
// snapshot.
type RedisStore struct {
	store     kvStore
	keyPrefix string
}

// NewRedisStore creates a redis-backed store. keyPrefix namespaces all keys.
func NewRedisStore(s kvStore, keyPrefix string) *RedisStore {
	return &RedisStore{store: s, keyPrefix: keyPrefix}
}

func (s *RedisStore) blobKey(name string) string { return s.keyPrefix + "snap:" + name }
func (s *RedisStore) manifestKey() string       { return s.keyPrefix + "snap_manifest" }

// Save writes the blob, then registers it in the manifest.
func (s *RedisStore) Save(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.blobKey(name), data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	if err := s.store.ZAdd(ctx, s.manifestKey(), float64(time.Now().UnixMilli()), name); err != nil {
		return fmt.Errorf("register snapshot %s: %w", name, err)
	}
	return nil
}

// Load reads a snapshot blob.
func (s *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := s.store.Get(ctx, s.blobKey(name))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("snapshot %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	return data, nil
}

// List returns manifest entries with the prefix, newest first.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	members, err := s.store.ZRevRange(ctx, s.manifestKey(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var names []string
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			names = append(names, m)
		}
	}
	return newestFirst(names), nil
}

// Prune unlists, then deletes, all but the newest keep snapshots.
func (s *RedisStore) Prune(ctx context.Context, prefix string, keep int) error {
	names, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	stale := names[min(keep, len(names)):]
	if len(stale) == 0 {
		return nil
	}
	if err := s.store.ZRem(ctx, s.manifestKey(), stale...); err != nil {
		return fmt.Errorf("unlist snapshots: %w", err)
	}
	for _, n := range stale {
		if err := s.store.Del(ctx, s.blobKey(n)); err != nil {
			return fmt.Errorf("delete snapshot %s: %w", n, err)
		}
	}
	return nil
}
