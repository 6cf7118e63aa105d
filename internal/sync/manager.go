package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recordsync/internal/logger"
	"recordsync/internal/record"
	"recordsync/internal/store"
)

// DefaultHistoryLimit bounds the resolution history ring.
const DefaultHistoryLimit = 1000

// HistoryEntry is one line of the resolution audit trail.
type HistoryEntry struct {
	ID         string                `json:"id"`
	ConflictID string                `json:"conflict_id"`
	RecordType string                `json:"record_type"`
	RecordID   string                `json:"record_id"`
	Resolver   string                `json:"resolver"`
	Result     record.ResolutionKind `json:"result"`
	Error      string                `json:"error,omitempty"`
	ResolvedAt time.Time             `json:"resolved_at"`
	Duration   time.Duration         `json:"duration"`
}

// Stats aggregates resolution outcomes.
type Stats struct {
	TotalConflicts    int64 `json:"total_conflicts"`
	LocalWins         int64 `json:"local_wins"`
	RemoteWins        int64 `json:"remote_wins"`
	Merges            int64 `json:"merges"`
	Skips             int64 `json:"skips"`
	Deferrals         int64 `json:"deferrals"`
	FailedResolutions int64 `json:"failed_resolutions"`
}

// SuccessRate is the fraction of conflicts resolved without failure.
func (s Stats) SuccessRate() float64 {
	if s.TotalConflicts == 0 {
		return 1
	}
	return float64(s.TotalConflicts-s.FailedResolutions) / float64(s.TotalConflicts)
}

// ResolutionManager owns the ordered resolver chain, the bounded resolution
// history, and the aggregate stats. All public operations serialize on an
// internal mutex; history and stats are mutated by no other component.
type ResolutionManager struct {
	mu           sync.Mutex
	resolvers    []Resolver
	history      []HistoryEntry
	historyLimit int
	stats        Stats
	audit        store.Store
}

func NewResolutionManager(historyLimit int) *ResolutionManager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ResolutionManager{historyLimit: historyLimit}
}

// WithAuditStore attaches a persistent audit store; resolutions are mirrored
// to it best-effort.
func (m *ResolutionManager) WithAuditStore(s store.Store) *ResolutionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = s
	return m
}

// Register adds a resolver to the chain. The chain stays ordered by
// descending priority; equal priorities keep registration order.
func (m *ResolutionManager) Register(r Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers = append(m.resolvers, r)
	sort.SliceStable(m.resolvers, func(i, j int) bool {
		return m.resolvers[i].Priority() > m.resolvers[j].Priority()
	})
}

// Resolvers returns the chain in consultation order.
func (m *ResolutionManager) Resolvers() []Resolver {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resolver, len(m.resolvers))
	copy(out, m.resolvers)
	return out
}

// Resolve runs the first applicable resolver for the conflict. The first
// resolver whose CanHandle accepts wins; there is no aggregation across
// resolvers, and a chosen resolver's failure propagates. With no applicable
// resolver it fails with ErrNoResolverFound.
func (m *ResolutionManager) Resolve(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
	start := time.Now()

	resolver := m.pick(cc.Conflict)
	if resolver == nil {
		m.record(cc, "", record.ResolutionResult{}, ErrNoResolverFound, start)
		return record.ResolutionResult{}, fmt.Errorf("%w: %s/%s", ErrNoResolverFound, cc.Conflict.RecordType, cc.Conflict.RecordID)
	}

	result, err := resolver.Resolve(ctx, cc)
	m.record(cc, resolver.Name(), result, err, start)
	if err != nil {
		return record.ResolutionResult{}, err
	}
	return result, nil
}

// ResolveBatch resolves each conflict independently. Individual failures are
// downgraded to a retry-later result instead of aborting the batch.
func (m *ResolutionManager) ResolveBatch(ctx context.Context, contexts []*record.ConflictContext) []record.ResolutionResult {
	results := make([]record.ResolutionResult, len(contexts))
	for i, cc := range contexts {
		result, err := m.Resolve(ctx, cc)
		if err != nil {
			logger.Log.Warn("Conflict resolution failed, deferring",
				zap.String("recordType", cc.Conflict.RecordType),
				zap.String("recordID", cc.Conflict.RecordID),
				zap.Error(err),
			)
			results[i] = record.ResolveRetry()
			continue
		}
		results[i] = result
	}
	return results
}

// History returns a copy of the retained history, oldest first.
func (m *ResolutionManager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Stats returns a snapshot of the aggregate counters.
func (m *ResolutionManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *ResolutionManager) pick(conflict *record.SyncConflict) Resolver {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resolvers {
		if r.CanHandle(conflict) {
			return r
		}
	}
	return nil
}

func (m *ResolutionManager) record(cc *record.ConflictContext, resolver string, result record.ResolutionResult, err error, start time.Time) {
	entry := HistoryEntry{
		ID:         uuid.New().String(),
		ConflictID: cc.Conflict.ID,
		RecordType: cc.Conflict.RecordType,
		RecordID:   cc.Conflict.RecordID,
		Resolver:   resolver,
		Result:     result.Kind,
		ResolvedAt: time.Now(),
		Duration:   time.Since(start),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	m.mu.Lock()
	m.stats.TotalConflicts++
	switch {
	case err != nil:
		m.stats.FailedResolutions++
	case result.Kind == record.UseLocal:
		m.stats.LocalWins++
	case result.Kind == record.UseRemote:
		m.stats.RemoteWins++
	case result.Kind == record.UseMerged:
		m.stats.Merges++
	case result.Kind == record.Skip:
		m.stats.Skips++
	case result.Kind == record.RetryLater:
		m.stats.Deferrals++
	}

	// Capped ring: drop the oldest once full.
	if len(m.history) == m.historyLimit {
		copy(m.history, m.history[1:])
		m.history[len(m.history)-1] = entry
	} else {
		m.history = append(m.history, entry)
	}
	audit := m.audit
	m.mu.Unlock()

	if audit != nil && err == nil {
		if auditErr := audit.ResolveConflict(context.Background(), cc.Conflict.ID, resolver, string(result.Kind), result.Merged); auditErr != nil {
			logger.Log.Warn("Failed to persist resolution", zap.Error(auditErr))
		}
	}
}
