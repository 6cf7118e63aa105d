package store

import (
	"context"
)

// Store persists the engine's audit trail: detected conflicts, their
// resolutions, and per-cycle sync runs. The in-memory history owned by the
// resolution manager is authoritative for runtime queries; this store exists
// so outcomes survive restarts.
type Store interface {
	// Conflicts
	CreateConflict(ctx context.Context, conflict *ConflictRow) error
	GetConflict(ctx context.Context, id string) (*ConflictRow, error)
	ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*ConflictRow, error)
	ResolveConflict(ctx context.Context, id, resolver, resolution string, resolvedData []byte) error

	// Sync runs
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	UpdateSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error)

	Close() error
}
