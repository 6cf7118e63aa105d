package sync

import (
	"fmt"
	"time"

	"recordsync/internal/record"
)

// Strategy names the automatic resolution policy applied during the
// conflict-resolution phase of a sync cycle.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyServerWins    Strategy = "server_wins"
	StrategyClientWins    Strategy = "client_wins"
	StrategyMerge         Strategy = "merge"
	StrategyFieldMerge    Strategy = "field_merge"
	StrategyThreeWay      Strategy = "three_way"

	// StrategyCustom defers each conflict to the observer; conflicts the
	// observer declines fall through to the registered resolver chain.
	StrategyCustom Strategy = "custom"
)

func (s Strategy) IsValid() bool {
	switch s {
	case StrategyLastWriteWins, StrategyServerWins, StrategyClientWins,
		StrategyMerge, StrategyFieldMerge, StrategyThreeWay, StrategyCustom:
		return true
	default:
		return false
	}
}

// State is the engine's observable lifecycle state. Exactly one value holds
// at a time.
type State string

const (
	StateIdle              State = "idle"
	StateSyncing           State = "syncing"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
	StateWaitingForNetwork State = "waiting_for_network"
	StatePaused            State = "paused"
)

// SyncResult summarizes one completed sync cycle.
type SyncResult struct {
	Uploaded   int           `json:"uploaded"`
	Downloaded int           `json:"downloaded"`
	Conflicts  int           `json:"conflicts"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

func (r SyncResult) String() string {
	return fmt.Sprintf("uploaded=%d downloaded=%d conflicts=%d in %s",
		r.Uploaded, r.Downloaded, r.Conflicts, r.Duration)
}

// Observer receives engine callbacks. All methods are optional; embed
// NoopObserver to implement a subset. Callbacks run on the engine's worker
// goroutine and must not call back into the same engine.
type Observer interface {
	// OnStateChange fires on every engine state transition.
	OnStateChange(old, new State)

	// OnProgress reports phase progress within a sync cycle.
	OnProgress(completed, total int, operation string)

	// OnConflict fires when the download phase detects a divergence. A
	// non-nil return short-circuits automatic resolution and is applied
	// as the resolved record.
	OnConflict(conflict *record.SyncConflict) *record.SyncRecord

	// OnSyncCompleted fires after a successful cycle.
	OnSyncCompleted(result SyncResult)

	// OnSyncFailed fires when a cycle aborts; the engine state is already
	// StateFailed when it runs.
	OnSyncFailed(err error)

	// OnRecordsReceived fires once per download phase with the records
	// applied from the remote replica.
	OnRecordsReceived(records []record.SyncRecord)
}

// NoopObserver implements Observer with no-ops.
type NoopObserver struct{}

func (NoopObserver) OnStateChange(State, State) {}
func (NoopObserver) OnProgress(int, int, string) {}
func (NoopObserver) OnConflict(*record.SyncConflict) *record.SyncRecord { return nil }
func (NoopObserver) OnSyncCompleted(SyncResult) {}
func (NoopObserver) OnSyncFailed(error) {}
func (NoopObserver) OnRecordsReceived([]record.SyncRecord) {}
