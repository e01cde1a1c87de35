package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/atmx/session-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for backtests
// and testing. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	fills     map[string][]model.Fill
	fillIDs   map[string]bool
	snapshots map[string][]model.PortfolioSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fills:     make(map[string][]model.Fill),
		fillIDs:   make(map[string]bool),
		snapshots: make(map[string][]model.PortfolioSnapshot),
	}
}

func (s *MemoryStore) InsertFill(_ context.Context, session string, f model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fillIDs[f.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateFill, f.ID)
	}
	s.fillIDs[f.ID] = true
	s.fills[session] = append(s.fills[session], f)
	return nil
}

func (s *MemoryStore) ListFills(_ context.Context, session string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fills[session]), nil
}

func (s *MemoryStore) ListFillsByContract(_ context.Context, session string, c model.Contract) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Fill
	for _, f := range s.fills[session] {
		if f.Contract == c {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertSnapshot(_ context.Context, session string, snap model.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[session] = append(s.snapshots[session], snap)
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, session string) ([]model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshots[session]), nil
}
