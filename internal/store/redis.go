package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/session-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertFill(ctx context.Context, session string, f model.Fill) error {
	if err := s.primary.InsertFill(ctx, session, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, fillsKey(session), contractFillsKey(session, f.Contract))
	return nil
}

func (s *CachedStore) InsertSnapshot(ctx context.Context, session string, snap model.PortfolioSnapshot) error {
	if err := s.primary.InsertSnapshot(ctx, session, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotsKey(session))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListFills(ctx context.Context, session string) ([]model.Fill, error) {
	return readThrough(ctx, s, fillsKey(session), func() ([]model.Fill, error) {
		return s.primary.ListFills(ctx, session)
	})
}

func (s *CachedStore) ListFillsByContract(ctx context.Context, session string, c model.Contract) ([]model.Fill, error) {
	return readThrough(ctx, s, contractFillsKey(session, c), func() ([]model.Fill, error) {
		return s.primary.ListFillsByContract(ctx, session, c)
	})
}

func (s *CachedStore) ListSnapshots(ctx context.Context, session string) ([]model.PortfolioSnapshot, error) {
	return readThrough(ctx, s, snapshotsKey(session), func() ([]model.PortfolioSnapshot, error) {
		return s.primary.ListSnapshots(ctx, session)
	})
}

// readThrough returns the cached value under key or loads and caches it.
func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (T, error)) (T, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return v, nil
		}
	}

	// Cache miss.
	v, err := load()
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return v, nil
}

// --- Cache helpers ---

func fillsKey(session string) string     { return fmt.Sprintf("fills:%s", session) }
func snapshotsKey(session string) string { return fmt.Sprintf("snapshots:%s", session) }
func contractFillsKey(session string, c model.Contract) string {
	return fmt.Sprintf("fills:%s:%s", session, c)
}
