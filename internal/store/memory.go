package store

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// MemoryStore keeps the audit trail in process memory. Used when no state
// storage is configured, and by tests.
type MemoryStore struct {
	mu        sync.Mutex
	conflicts []*ConflictRow
	runs      []*SyncRun
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConflict(_ context.Context, conflict *ConflictRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *conflict
	s.conflicts = append(s.conflicts, &c)
	return nil
}

func (s *MemoryStore) GetConflict(_ context.Context, id string) (*ConflictRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conflicts {
		if c.ID == id {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListConflicts(_ context.Context, resolved bool, limit, offset int) ([]*ConflictRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*ConflictRow
	for i := len(s.conflicts) - 1; i >= 0; i-- {
		if s.conflicts[i].Resolved == resolved {
			out := *s.conflicts[i]
			matched = append(matched, &out)
		}
	}
	return paginate(matched, limit, offset), nil
}

func (s *MemoryStore) ResolveConflict(_ context.Context, id, resolver, resolution string, resolvedData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conflicts {
		if c.ID == id {
			c.Resolved = true
			c.Resolver = sql.NullString{String: resolver, Valid: true}
			c.Resolution = sql.NullString{String: resolution, Valid: true}
			c.ResolvedAt = sql.NullTime{Time: time.Now(), Valid: true}
			c.ResolvedData = resolvedData
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) CreateSyncRun(_ context.Context, run *SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *run
	s.runs = append(s.runs, &r)
	return nil
}

func (s *MemoryStore) UpdateSyncRun(_ context.Context, run *SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.ID == run.ID {
			updated := *run
			s.runs[i] = &updated
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListSyncRuns(_ context.Context, limit, offset int) ([]*SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*SyncRun, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := *s.runs[i]
		out = append(out, &r)
	}
	return paginate(out, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
