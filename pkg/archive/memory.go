package archive

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process [Store]. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Turn
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Turn)}
}

// Append implements [Store].
func (s *MemoryStore) Append(ctx context.Context, sessionID string, turns []Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.sessions[sessionID]
	for _, t := range turns {
		if slices.ContainsFunc(stored, func(o Turn) bool { return o.Seq == t.Seq }) {
			continue
		}
		stored = append(stored, t)
	}
	slices.SortFunc(stored, func(a, b Turn) int { return a.Seq - b.Seq })
	s.sessions[sessionID] = stored
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.sessions[sessionID]
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	return slices.Clone(stored), nil
}

// Sessions returns the IDs of every session with archived turns.
func (s *MemoryStore) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
