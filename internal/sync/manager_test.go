package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordsync/internal/record"
)

func TestManagerChainOrdering(t *testing.T) {
	m := NewResolutionManager(0)
	m.Register(&FuncResolver{ResolverName: "low", ChainPriority: 1})
	m.Register(&FuncResolver{ResolverName: "high", ChainPriority: 10})
	m.Register(&FuncResolver{ResolverName: "mid-a", ChainPriority: 5})
	m.Register(&FuncResolver{ResolverName: "mid-b", ChainPriority: 5})

	var names []string
	for _, r := range m.Resolvers() {
		names = append(names, r.Name())
	}
	require.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, names,
		"descending priority, registration order on ties")
}

func TestManagerFirstApplicableResolverWins(t *testing.T) {
	m := NewResolutionManager(0)
	m.Register(&FuncResolver{
		ResolverName:  "notes-only",
		ChainPriority: 10,
		Handles:       func(c *record.SyncConflict) bool { return c.RecordType == "note" },
		Fn: func(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
			return record.ResolveLocal(), nil
		},
	})
	m.Register(&LastWriteWinsResolver{ChainPriority: 0})

	result, err := m.Resolve(context.Background(), conflictAt(0, time.Minute))
	require.NoError(t, err)
	require.Equal(t, record.UseLocal, result.Kind,
		"the type-scoped resolver outranks the catch-all even when LWW disagrees")
}

func TestManagerNoResolverFound(t *testing.T) {
	m := NewResolutionManager(0)

	_, err := m.Resolve(context.Background(), conflictAt(0, 0))
	require.ErrorIs(t, err, ErrNoResolverFound)

	stats := m.Stats()
	require.EqualValues(t, 1, stats.TotalConflicts)
	require.EqualValues(t, 1, stats.FailedResolutions)
	require.Equal(t, float64(0), stats.SuccessRate())
}

func TestManagerResolverErrorPropagatesAndIsRecorded(t *testing.T) {
	boom := errors.New("boom")
	m := NewResolutionManager(0)
	m.Register(&FuncResolver{
		ChainPriority: 10,
		Fn: func(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
			return record.ResolutionResult{}, boom
		},
	})

	_, err := m.Resolve(context.Background(), conflictAt(0, 0))
	require.ErrorIs(t, err, boom)

	history := m.History()
	require.Len(t, history, 1)
	require.Equal(t, "boom", history[0].Error)
}

func TestManagerHistoryCapped(t *testing.T) {
	const limit = 10
	m := NewResolutionManager(limit)
	m.Register(&LastWriteWinsResolver{})

	for i := 0; i < limit+5; i++ {
		cc := conflictAt(0, 0)
		cc.Conflict.ID = fmt.Sprintf("c%d", i)
		_, err := m.Resolve(context.Background(), cc)
		require.NoError(t, err)
	}

	history := m.History()
	require.Len(t, history, limit)
	require.Equal(t, "c5", history[0].ConflictID, "oldest entries are evicted first")
	require.Equal(t, fmt.Sprintf("c%d", limit+4), history[limit-1].ConflictID)

	stats := m.Stats()
	require.EqualValues(t, limit+5, stats.TotalConflicts, "stats outlive history eviction")
}

func TestManagerStatsPerKind(t *testing.T) {
	m := NewResolutionManager(0)

	kinds := []record.ResolutionResult{
		record.ResolveLocal(),
		record.ResolveRemote(),
		record.ResolveRemote(),
		record.ResolveMerged([]byte(`{}`)),
		record.ResolveSkip(),
		record.ResolveRetry(),
	}
	i := 0
	m.Register(&FuncResolver{
		ChainPriority: 10,
		Fn: func(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
			result := kinds[i]
			i++
			return result, nil
		},
	})

	for range kinds {
		_, err := m.Resolve(context.Background(), conflictAt(0, 0))
		require.NoError(t, err)
	}

	stats := m.Stats()
	require.EqualValues(t, 6, stats.TotalConflicts)
	require.EqualValues(t, 1, stats.LocalWins)
	require.EqualValues(t, 2, stats.RemoteWins)
	require.EqualValues(t, 1, stats.Merges)
	require.EqualValues(t, 1, stats.Skips)
	require.EqualValues(t, 1, stats.Deferrals)
	require.Equal(t, float64(1), stats.SuccessRate())
}

func TestManagerResolveBatchDowngradesFailures(t *testing.T) {
	m := NewResolutionManager(0)
	m.Register(&FuncResolver{
		ChainPriority: 10,
		Handles:       func(c *record.SyncConflict) bool { return c.RecordType == "note" },
		Fn: func(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
			return record.ResolveLocal(), nil
		},
	})

	good := conflictAt(0, 0)
	bad := conflictAt(0, 0)
	bad.Conflict.RecordType = "task" // nothing handles tasks

	results := m.ResolveBatch(context.Background(), []*record.ConflictContext{good, bad})
	require.Len(t, results, 2)
	require.Equal(t, record.UseLocal, results[0].Kind)
	require.Equal(t, record.RetryLater, results[1].Kind, "failures downgrade instead of aborting the batch")
}

func TestManagerEmptySuccessRate(t *testing.T) {
	m := NewResolutionManager(0)
	require.Equal(t, float64(1), m.Stats().SuccessRate())
}
