package sync

import (
	"recordsync/internal/record"
)

// DefaultResolutionManager builds a resolver chain for the configured
// strategy. The strategy's resolver sits at the top; last-write-wins is
// registered underneath as the catch-all so no conflict falls through to
// ErrNoResolverFound. For the custom strategy the chain holds only the
// fallback, since custom resolutions come from the observer.
func DefaultResolutionManager(cfg EngineConfig, codec record.Codec, bases BaseProvider) *ResolutionManager {
	m := NewResolutionManager(cfg.HistoryLimit)

	switch cfg.Strategy {
	case StrategyServerWins:
		m.Register(&ServerWinsResolver{ChainPriority: 10})
	case StrategyClientWins:
		m.Register(&ClientWinsResolver{ChainPriority: 10})
	case StrategyMerge:
		m.Register(NewPropertyMergeResolver(codec, 10))
	case StrategyFieldMerge:
		m.Register(&FieldMergeResolver{ChainPriority: 10, Codec: codec})
	case StrategyThreeWay:
		tw := NewThreeWayMergeResolver(codec, bases, 10)
		tw.RemoteWinsTrueConflicts = cfg.RemoteWinsTrueConflicts
		m.Register(tw)
	case StrategyCustom:
		// Observer-first; fallback below handles what it declines.
	default:
		// StrategyLastWriteWins is the fallback anyway.
	}

	m.Register(&LastWriteWinsResolver{ChainPriority: 0})
	return m
}
