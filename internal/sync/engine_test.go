package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordsync/internal/record"
	"recordsync/internal/transport"
)

func newTestEngine(t *testing.T, cfg EngineConfig, opts ...Option) (*Engine, *transport.MemoryTransport) {
	t.Helper()
	remote := transport.NewMemoryTransport()
	resolutions := DefaultResolutionManager(cfg, record.JSONCodec{}, nil)
	e := NewEngine(cfg, remote, resolutions, opts...)
	e.Start()
	t.Cleanup(e.Stop)
	return e, remote
}

func TestEngineSaveAndFetch(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	saved, err := e.SaveRecord(ctx, "note", "1", []byte(`{"title":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, record.StatusPending, saved.Status)
	require.False(t, saved.LocalModified.IsZero())

	got, err := e.FetchRecord(ctx, "note", "1")
	require.NoError(t, err)
	require.Equal(t, saved.Payload, got.Payload)

	require.Len(t, e.PendingChanges(), 1)
	require.Equal(t, record.ChangeInsert, e.PendingChanges()[0].Type)
}

func TestEngineUpdateMissingRecord(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{})

	_, err := e.UpdateRecord(context.Background(), "note", "missing", []byte(`{}`))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.FetchRecord(context.Background(), "note", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = e.DeleteRecord(context.Background(), "note", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEngineUpdateQueuesChange(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	_, err := e.SaveRecord(ctx, "note", "1", []byte(`{"v":1}`))
	require.NoError(t, err)

	updated, err := e.UpdateRecord(ctx, "note", "1", []byte(`{"v":2}`))
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":2}`), updated.Payload)

	changes := e.PendingChanges()
	require.Len(t, changes, 2)
	require.Equal(t, record.ChangeUpdate, changes[1].Type)
}

func TestEngineTombstone(t *testing.T) {
	e, remote := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	_, err := e.SaveRecord(ctx, "note", "1", []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = e.SyncNow(ctx)
	require.NoError(t, err)

	require.NoError(t, e.DeleteRecord(ctx, "note", "1"))

	// Reads exclude the tombstone.
	_, err = e.FetchRecord(ctx, "note", "1")
	require.ErrorIs(t, err, ErrNotFound)
	all, err := e.FetchAllRecords(ctx, "")
	require.NoError(t, err)
	require.Empty(t, all)

	// The deletion is still queued for propagation.
	changes := e.PendingChanges()
	require.Len(t, changes, 1)
	require.Equal(t, record.ChangeDelete, changes[0].Type)
	require.True(t, changes[0].Record.Deleted)

	result, err := e.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Uploaded)

	remoteRec, ok := remote.Get("note", "1")
	require.True(t, ok)
	require.True(t, remoteRec.Deleted, "tombstone propagated to the remote replica")

	// Deleting a tombstone again is a no-op.
	require.NoError(t, e.DeleteRecord(ctx, "note", "1"))
	require.Empty(t, e.PendingChanges())
}

func TestEngineDownloadsRemoteRecords(t *testing.T) {
	e, remote := newTestEngine(t, EngineConfig{})

	remote.Put(record.SyncRecord{ID: "1", RecordType: "note", Payload: []byte(`{"v":1}`)})
	remote.Put(record.SyncRecord{ID: "2", RecordType: "note", Payload: []byte(`{"v":2}`)})

	result, err := e.SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Uploaded)
	require.Equal(t, 2, result.Downloaded)
	require.Equal(t, 0, result.Conflicts)
	require.Equal(t, StateCompleted, e.State())

	all, err := e.FetchAllRecords(context.Background(), "note")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, record.StatusSynced, all[0].Status)
	require.False(t, e.LastSyncTime().IsZero())
}

func TestEngineServerWinsConflictCycle(t *testing.T) {
	e, remote := newTestEngine(t, EngineConfig{
		DetectionMode: DetectCombined,
		Strategy:      StrategyServerWins,
	})
	ctx := context.Background()

	// Two local pending changes; the remote diverged on one of them plus
	// holds two records unknown locally.
	_, err := e.SaveRecord(ctx, "note", "a", []byte(`{"data":"local-a"}`))
	require.NoError(t, err)
	_, err = e.SaveRecord(ctx, "note", "42", []byte(`{"data":"A"}`))
	require.NoError(t, err)

	remote.Put(record.SyncRecord{ID: "c", RecordType: "note", Payload: []byte(`{"data":"C"}`)})
	remote.Put(record.SyncRecord{ID: "d", RecordType: "note", Payload: []byte(`{"data":"D"}`)})
	remote.Put(record.SyncRecord{
		ID:             "42",
		RecordType:     "note",
		Payload:        []byte(`{"data":"B"}`),
		ServerModified: time.Now().Add(time.Minute),
	})

	result, err := e.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Uploaded)
	require.Equal(t, 2, result.Downloaded)
	require.Equal(t, 1, result.Conflicts)
	require.Equal(t, StateCompleted, e.State())

	// Server wins: the remote payload replaced ours locally and was pushed
	// back to the remote replica.
	local, err := e.FetchRecord(ctx, "note", "42")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"data":"B"}`), local.Payload)

	remoteRec, ok := remote.Get("note", "42")
	require.True(t, ok)
	require.Equal(t, []byte(`{"data":"B"}`), remoteRec.Payload)

	require.Empty(t, e.Conflicts(), "the conflict set is cleared after resolution")

	stats := e.ResolutionStats()
	require.EqualValues(t, 1, stats.TotalConflicts)
	require.EqualValues(t, 1, stats.RemoteWins)
}

func TestEngineSecondCycleConverges(t *testing.T) {
	e, remote := newTestEngine(t, EngineConfig{Strategy: StrategyServerWins})
	ctx := context.Background()

	_, err := e.SaveRecord(ctx, "note", "42", []byte(`{"data":"A"}`))
	require.NoError(t, err)
	remote.Put(record.SyncRecord{ID: "42", RecordType: "note", Payload: []byte(`{"data":"B"}`)})

	_, err = e.SyncNow(ctx)
	require.NoError(t, err)

	result, err := e.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{StartedAt: result.StartedAt, Duration: result.Duration}, result,
		"a converged pair has nothing left to sync")
}

func TestEngineNetworkUnavailable(t *testing.T) {
	obs := &recordingObserver{}
	e, remote := newTestEngine(t, EngineConfig{}, WithObserver(obs))
	remote.SetOffline(true)

	_, err := e.SaveRecord(context.Background(), "note", "1", []byte(`{}`))
	require.NoError(t, err)

	_, err = e.SyncNow(context.Background())
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	require.Equal(t, StateWaitingForNetwork, e.State())
	require.Len(t, e.PendingChanges(), 1, "pending changes survive a failed cycle")
	require.Len(t, obs.failures(), 1)

	remote.SetOffline(false)
	result, err := e.SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Uploaded)
	require.Equal(t, StateCompleted, e.State())
}

func TestEnginePauseResume(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{})

	require.NoError(t, e.Pause())
	require.Equal(t, StatePaused, e.State())

	// Pausing again stays paused.
	require.NoError(t, e.Pause())
	require.Equal(t, StatePaused, e.State())

	require.NoError(t, e.Resume())
	require.Equal(t, StateIdle, e.State())

	// Resuming an idle engine is a no-op.
	require.NoError(t, e.Resume())
	require.Equal(t, StateIdle, e.State())
}

type gatedTransport struct {
	*transport.MemoryTransport
	gate chan struct{}
}

func (g *gatedTransport) FetchAll(ctx context.Context) ([]record.SyncRecord, error) {
	<-g.gate
	return g.MemoryTransport.FetchAll(ctx)
}

func TestEngineRejectsConcurrentCycles(t *testing.T) {
	remote := &gatedTransport{
		MemoryTransport: transport.NewMemoryTransport(),
		gate:            make(chan struct{}),
	}
	cfg := EngineConfig{}
	e := NewEngine(cfg, remote, DefaultResolutionManager(cfg, record.JSONCodec{}, nil))
	e.Start()
	defer e.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := e.SyncNow(context.Background())
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return e.State() == StateSyncing
	}, time.Second, time.Millisecond)

	_, err := e.SyncNow(context.Background())
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(remote.gate)
	wg.Wait()
	require.Equal(t, StateCompleted, e.State())
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions [][2]State
	completed   []SyncResult
	failed      []error
	received    [][]record.SyncRecord
	conflicts   []*record.SyncConflict

	// resolve, when set, short-circuits automatic resolution.
	resolve func(*record.SyncConflict) *record.SyncRecord
}

func (o *recordingObserver) OnStateChange(from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]State{from, to})
}

func (o *recordingObserver) OnProgress(int, int, string) {}

func (o *recordingObserver) OnConflict(c *record.SyncConflict) *record.SyncRecord {
	o.mu.Lock()
	o.conflicts = append(o.conflicts, c)
	resolve := o.resolve
	o.mu.Unlock()
	if resolve != nil {
		return resolve(c)
	}
	return nil
}

func (o *recordingObserver) OnSyncCompleted(r SyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, r)
}

func (o *recordingObserver) OnSyncFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func (o *recordingObserver) OnRecordsReceived(recs []record.SyncRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, recs)
}

func (o *recordingObserver) failures() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]error, len(o.failed))
	copy(out, o.failed)
	return out
}

func TestEngineObserverCallbacks(t *testing.T) {
	obs := &recordingObserver{}
	e, remote := newTestEngine(t, EngineConfig{}, WithObserver(obs))

	remote.Put(record.SyncRecord{ID: "1", RecordType: "note", Payload: []byte(`{}`)})

	result, err := e.SyncNow(context.Background())
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Contains(t, obs.transitions, [2]State{StateIdle, StateSyncing})
	require.Contains(t, obs.transitions, [2]State{StateSyncing, StateCompleted})
	require.Equal(t, []SyncResult{result}, obs.completed)
	require.Len(t, obs.received, 1)
	require.Len(t, obs.received[0], 1)
}

func TestEngineObserverShortCircuitsResolution(t *testing.T) {
	obs := &recordingObserver{}
	obs.resolve = func(c *record.SyncConflict) *record.SyncRecord {
		resolved := c.Local
		resolved.Payload = []byte(`{"data":"observer"}`)
		return &resolved
	}
	e, remote := newTestEngine(t, EngineConfig{Strategy: StrategyServerWins}, WithObserver(obs))
	ctx := context.Background()

	_, err := e.SaveRecord(ctx, "note", "42", []byte(`{"data":"A"}`))
	require.NoError(t, err)
	remote.Put(record.SyncRecord{ID: "42", RecordType: "note", Payload: []byte(`{"data":"B"}`)})

	result, err := e.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Conflicts)

	local, err := e.FetchRecord(ctx, "note", "42")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"data":"observer"}`), local.Payload)

	require.EqualValues(t, 0, e.ResolutionStats().TotalConflicts,
		"the resolver chain never ran")
	require.Len(t, e.PendingChanges(), 1, "the observer's record is queued for upload")
}

func TestEngineAutoSync(t *testing.T) {
	e, remote := newTestEngine(t, EngineConfig{AutoSyncInterval: 20 * time.Millisecond})

	remote.Put(record.SyncRecord{ID: "1", RecordType: "note", Payload: []byte(`{}`)})

	require.Eventually(t, func() bool {
		all, err := e.FetchAllRecords(context.Background(), "note")
		return err == nil && len(all) == 1
	}, time.Second, 10*time.Millisecond, "the periodic loop picks up remote records")

	// Pausing cancels the timer; a record added afterwards stays remote-only.
	require.NoError(t, e.Pause())
	remote.Put(record.SyncRecord{ID: "2", RecordType: "note", Payload: []byte(`{}`)})
	time.Sleep(100 * time.Millisecond)
	all, err := e.FetchAllRecords(context.Background(), "note")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestEnginePauseImmediatelyAfterStart(t *testing.T) {
	e, remote := newTestEngine(t, EngineConfig{AutoSyncInterval: 20 * time.Millisecond})

	// Start marshals the periodic loop through the mailbox, so a Pause
	// issued right after Start always finds the timer and cancels it.
	require.NoError(t, e.Pause())
	require.Equal(t, StatePaused, e.State())

	remote.Put(record.SyncRecord{ID: "1", RecordType: "note", Payload: []byte(`{}`)})
	time.Sleep(100 * time.Millisecond)
	all, err := e.FetchAllRecords(context.Background(), "note")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestEngineConfigValidate(t *testing.T) {
	valid := EngineConfig{Strategy: StrategyServerWins, DetectionMode: DetectCombined}
	require.NoError(t, valid.Validate())

	misspelled := EngineConfig{Strategy: "server-wins", DetectionMode: DetectCombined}
	require.Error(t, misspelled.Validate())

	badMode := EngineConfig{Strategy: StrategyLastWriteWins, DetectionMode: "hash"}
	require.Error(t, badMode.Validate())
}
