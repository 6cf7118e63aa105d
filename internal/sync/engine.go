package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recordsync/internal/logger"
	"recordsync/internal/record"
	"recordsync/internal/store"
	"recordsync/internal/transport"
)

// ErrSyncInProgress is returned when a sync cycle is requested while one is
// already queued or running. Cycles never interleave.
var ErrSyncInProgress = errors.New("sync already in progress")

// EngineConfig carries the engine's tunables, typically derived from the
// service configuration.
type EngineConfig struct {
	DetectionMode      DetectionMode
	Strategy           Strategy
	TimestampTolerance time.Duration
	HistoryLimit       int

	// AutoSyncInterval > 0 starts the periodic sync loop on Start.
	AutoSyncInterval time.Duration

	// RemoteWinsTrueConflicts is the three-way merge policy for non-array
	// fields changed on both sides.
	RemoteWinsTrueConflicts bool
}

// Validate rejects unknown strategy and detection-mode names. Without this
// check a misspelled strategy would silently fall through to the
// last-write-wins catch-all.
func (c EngineConfig) Validate() error {
	if !c.Strategy.IsValid() {
		return fmt.Errorf("unknown resolution strategy %q", c.Strategy)
	}
	if !c.DetectionMode.IsValid() {
		return fmt.Errorf("unknown detection mode %q", c.DetectionMode)
	}
	return nil
}

// Engine reconciles the local replica with the remote one. It owns the
// local/remote record maps, the pending-change queue, and the in-flight
// conflict set; all public operations are marshalled onto a single worker
// goroutine, so they execute one at a time in arrival order.
type Engine struct {
	cfg         EngineConfig
	remote      transport.Transport
	detector    *Detector
	resolutions *ResolutionManager
	observer    Observer
	audit       store.Store

	ops    chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Worker-owned state. Only the run loop touches these.
	local       map[record.Key]record.SyncRecord
	remoteKnown map[record.Key]record.SyncRecord
	pending     []record.SyncChange
	conflicts   []*record.SyncConflict
	lastSync    time.Time

	// autoCancel stops the periodic loop; guarded by the run loop.
	autoCancel context.CancelFunc

	// Observable state, readable without going through the mailbox.
	stateMu sync.RWMutex
	state   State

	syncQueued atomic.Bool
}

// Option customizes engine construction.
type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithAuditStore mirrors detected conflicts and sync runs to a persistent
// store.
func WithAuditStore(s store.Store) Option {
	return func(e *Engine) { e.audit = s }
}

func NewEngine(cfg EngineConfig, remote transport.Transport, resolutions *ResolutionManager, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:         cfg,
		remote:      remote,
		resolutions: resolutions,
		observer:    NoopObserver{},
		ops:         make(chan func(), 64),
		ctx:         ctx,
		cancel:      cancel,
		local:       make(map[record.Key]record.SyncRecord),
		remoteKnown: make(map[record.Key]record.SyncRecord),
		state:       StateIdle,
	}
	e.detector = NewDetector(cfg.DetectionMode, cfg.TimestampTolerance)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the worker goroutine and, if configured, the periodic sync
// loop. The periodic loop is started through the mailbox so autoCancel is
// only ever written on the worker.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()

	if e.cfg.AutoSyncInterval > 0 {
		_ = e.do(func() { e.startAutoSync() })
	}
}

// Stop cancels the worker and the periodic loop and waits for both to exit.
// In-flight cycles run to completion; a cycle is never cancelled mid-flight.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.ctx.Done():
			// Drain operations already queued so callers are not left
			// blocked on a reply.
			for {
				select {
				case op := <-e.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

// do executes op on the worker goroutine and waits for it to finish.
func (e *Engine) do(op func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		op()
	}
	select {
	case e.ops <- wrapped:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
	<-done
	return nil
}

func (e *Engine) startAutoSync() {
	ctx, cancel := context.WithCancel(e.ctx)
	e.autoCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.AutoSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.SyncNow(context.Background()); err != nil {
					if errors.Is(err, ErrSyncInProgress) {
						continue
					}
					logger.Log.Warn("Periodic sync failed", zap.Error(err))
				}
			}
		}
	}()
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	old := e.state
	e.state = s
	e.stateMu.Unlock()
	if old != s {
		e.observer.OnStateChange(old, s)
	}
}

// Pause stops the periodic sync timer. Effective from any state except
// paused; an in-flight cycle still runs to completion.
func (e *Engine) Pause() error {
	return e.do(func() {
		if e.State() == StatePaused {
			return
		}
		if e.autoCancel != nil {
			e.autoCancel()
			e.autoCancel = nil
		}
		e.setState(StatePaused)
	})
}

// Resume returns a paused engine to idle and restarts the periodic loop if
// configured. A no-op from any other state.
func (e *Engine) Resume() error {
	return e.do(func() {
		if e.State() != StatePaused {
			return
		}
		e.setState(StateIdle)
		if e.cfg.AutoSyncInterval > 0 {
			e.startAutoSync()
		}
	})
}

// SaveRecord writes a record to the local replica and queues it for upload.
// An existing record is overwritten.
func (e *Engine) SaveRecord(ctx context.Context, recordType, id string, payload []byte) (record.SyncRecord, error) {
	var saved record.SyncRecord
	err := e.do(func() {
		key := record.Key{RecordType: recordType, ID: id}
		changeType := record.ChangeInsert
		if existing, ok := e.local[key]; ok && !existing.Deleted {
			changeType = record.ChangeUpdate
		}

		rec := record.SyncRecord{
			ID:            id,
			RecordType:    recordType,
			Payload:       payload,
			LocalModified: time.Now(),
			Status:        record.StatusPending,
		}
		if existing, ok := e.local[key]; ok {
			rec.ServerModified = existing.ServerModified
			rec.ChangeTag = existing.ChangeTag
		}
		e.local[key] = rec
		e.enqueue(changeType, rec)
		saved = rec
	})
	return saved, err
}

// UpdateRecord replaces the payload of an existing local record. Fails with
// ErrNotFound when the record is absent or tombstoned.
func (e *Engine) UpdateRecord(ctx context.Context, recordType, id string, payload []byte) (record.SyncRecord, error) {
	var updated record.SyncRecord
	var opErr error
	err := e.do(func() {
		key := record.Key{RecordType: recordType, ID: id}
		existing, ok := e.local[key]
		if !ok || existing.Deleted {
			opErr = fmt.Errorf("%w: %s/%s", ErrNotFound, recordType, id)
			return
		}

		existing.Payload = payload
		existing.LocalModified = time.Now()
		existing.Status = record.StatusPending
		e.local[key] = existing
		e.enqueue(record.ChangeUpdate, existing)
		updated = existing
	})
	if err != nil {
		return record.SyncRecord{}, err
	}
	return updated, opErr
}

// DeleteRecord tombstones a local record so the deletion propagates on the
// next cycle. The record is retained internally, excluded from reads.
func (e *Engine) DeleteRecord(ctx context.Context, recordType, id string) error {
	var opErr error
	err := e.do(func() {
		key := record.Key{RecordType: recordType, ID: id}
		existing, ok := e.local[key]
		if !ok {
			opErr = fmt.Errorf("%w: %s/%s", ErrNotFound, recordType, id)
			return
		}
		if existing.Deleted {
			return
		}

		existing.Deleted = true
		existing.LocalModified = time.Now()
		existing.Status = record.StatusPending
		e.local[key] = existing
		e.enqueue(record.ChangeDelete, existing)
	})
	if err != nil {
		return err
	}
	return opErr
}

// FetchRecord reads a record from the local replica. Tombstones read as
// ErrNotFound.
func (e *Engine) FetchRecord(ctx context.Context, recordType, id string) (record.SyncRecord, error) {
	var rec record.SyncRecord
	var opErr error
	err := e.do(func() {
		existing, ok := e.local[record.Key{RecordType: recordType, ID: id}]
		if !ok || existing.Deleted {
			opErr = fmt.Errorf("%w: %s/%s", ErrNotFound, recordType, id)
			return
		}
		rec = existing
	})
	if err != nil {
		return record.SyncRecord{}, err
	}
	return rec, opErr
}

// FetchAllRecords lists local records, excluding tombstones. An empty
// recordType matches every type. Results are ordered by type then id.
func (e *Engine) FetchAllRecords(ctx context.Context, recordType string) ([]record.SyncRecord, error) {
	var out []record.SyncRecord
	err := e.do(func() {
		for _, rec := range e.local {
			if rec.Deleted {
				continue
			}
			if recordType != "" && rec.RecordType != recordType {
				continue
			}
			out = append(out, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordType != out[j].RecordType {
			return out[i].RecordType < out[j].RecordType
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PendingChanges returns a copy of the queued, not-yet-uploaded changes.
func (e *Engine) PendingChanges() []record.SyncChange {
	var out []record.SyncChange
	_ = e.do(func() {
		out = make([]record.SyncChange, len(e.pending))
		copy(out, e.pending)
	})
	return out
}

// Conflicts returns a copy of the in-flight conflict set.
func (e *Engine) Conflicts() []record.SyncConflict {
	var out []record.SyncConflict
	_ = e.do(func() {
		for _, c := range e.conflicts {
			out = append(out, *c)
		}
	})
	return out
}

// LastSyncTime reports when the last successful cycle completed.
func (e *Engine) LastSyncTime() time.Time {
	var t time.Time
	_ = e.do(func() { t = e.lastSync })
	return t
}

// ResolutionStats exposes the resolution manager's counters.
func (e *Engine) ResolutionStats() Stats {
	return e.resolutions.Stats()
}

// ResolutionHistory exposes the resolution manager's retained history.
func (e *Engine) ResolutionHistory() []HistoryEntry {
	return e.resolutions.History()
}

// SyncNow runs one full sync cycle: upload, download, conflict resolution.
// A second call while a cycle is queued or running fails with
// ErrSyncInProgress rather than interleaving.
func (e *Engine) SyncNow(ctx context.Context) (SyncResult, error) {
	if !e.syncQueued.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer e.syncQueued.Store(false)

	var result SyncResult
	var opErr error
	err := e.do(func() {
		result, opErr = e.performSync(ctx)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return result, opErr
}

// performSync runs on the worker goroutine. Phase order is load-bearing:
// upload precedes download processing so a freshly uploaded record does not
// read back as a self-conflict, and resolution runs last against the full
// conflict set. The remote snapshot is read before upload, otherwise our own
// upload would mask another writer's divergent copy and the conflict could
// never be detected, let alone resolved with both payloads intact.
func (e *Engine) performSync(ctx context.Context) (SyncResult, error) {
	start := time.Now()
	e.setState(StateSyncing)

	run := &store.SyncRun{
		ID:        uuid.New().String(),
		StartedAt: start,
		Status:    string(StateSyncing),
	}
	e.auditRun(ctx, run, true)

	result := SyncResult{StartedAt: start}

	snapshot, err := e.remote.FetchAll(ctx)
	if err != nil {
		return result, e.failCycle(ctx, run, result, fmt.Errorf("fetch remote: %w", err))
	}

	// The divergence checks below compare against the remote state as known
	// before this cycle touches it.
	preKnown := make(map[record.Key]record.SyncRecord, len(e.remoteKnown))
	for k, v := range e.remoteKnown {
		preKnown[k] = v
	}
	pendingKeys := make(map[record.Key]bool, len(e.pending))
	for _, change := range e.pending {
		pendingKeys[change.Record.Key()] = true
	}

	uploaded, err := e.uploadPhase(ctx)
	result.Uploaded = uploaded
	if err != nil {
		return result, e.failCycle(ctx, run, result, err)
	}

	downloaded, conflicts, err := e.downloadPhase(ctx, snapshot, preKnown, pendingKeys)
	result.Downloaded = downloaded
	result.Conflicts = conflicts
	if err != nil {
		return result, e.failCycle(ctx, run, result, err)
	}

	resolved, err := e.resolutionPhase(ctx)
	if err != nil {
		return result, e.failCycle(ctx, run, result, err)
	}
	logger.Log.Debug("Resolved conflicts", zap.Int("count", resolved))

	e.lastSync = time.Now()
	result.Duration = time.Since(start)
	e.setState(StateCompleted)

	run.CompletedAt = sql.NullTime{Time: e.lastSync, Valid: true}
	run.Uploaded = int64(result.Uploaded)
	run.Downloaded = int64(result.Downloaded)
	run.ConflictsDetected = result.Conflicts
	run.Status = string(StateCompleted)
	e.auditRun(ctx, run, false)

	logger.Log.Info("Sync cycle completed",
		zap.Int("uploaded", result.Uploaded),
		zap.Int("downloaded", result.Downloaded),
		zap.Int("conflicts", result.Conflicts),
		zap.Duration("duration", result.Duration),
	)
	e.observer.OnSyncCompleted(result)
	return result, nil
}

func (e *Engine) failCycle(ctx context.Context, run *store.SyncRun, result SyncResult, err error) error {
	if errors.Is(err, transport.ErrNetworkUnavailable) {
		e.setState(StateWaitingForNetwork)
	} else {
		e.setState(StateFailed)
	}

	run.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	run.Uploaded = int64(result.Uploaded)
	run.Downloaded = int64(result.Downloaded)
	run.ConflictsDetected = result.Conflicts
	run.Status = string(StateFailed)
	run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	e.auditRun(ctx, run, false)

	logger.Log.Error("Sync cycle failed", zap.Error(err))
	e.observer.OnSyncFailed(err)
	return err
}

// uploadPhase sends every queued local change to the remote replica. Each
// record is uploaded once per cycle even if it has several queued changes;
// the upload always carries the current local state.
func (e *Engine) uploadPhase(ctx context.Context) (int, error) {
	total := len(e.pending)
	if total == 0 {
		return 0, nil
	}

	uploaded := 0
	seen := make(map[record.Key]bool, total)
	remaining := e.pending[:0]

	for i, change := range e.pending {
		key := change.Record.Key()
		if seen[key] {
			continue
		}

		rec, ok := e.local[key]
		if !ok {
			rec = change.Record
		}

		stamped, err := e.remote.Upload(ctx, rec)
		if err != nil {
			rec.Status = record.StatusFailed
			e.local[key] = rec
			// Keep this change and everything after it queued.
			remaining = append(remaining, e.pending[i:]...)
			e.pending = remaining
			return uploaded, fmt.Errorf("upload %s/%s: %w", key.RecordType, key.ID, err)
		}

		seen[key] = true
		e.local[key] = stamped
		e.remoteKnown[key] = stamped
		uploaded++
		e.observer.OnProgress(i+1, total, "upload")
	}

	e.pending = remaining
	return uploaded, nil
}

// downloadPhase applies snapshot records that are new or newer than the
// local copy, and detects true conflicts: records changed remotely while the
// local replica also changed since the last known remote state. pendingKeys
// holds the keys that were queued when the cycle began, so records the
// upload phase just consumed still count as locally changed.
func (e *Engine) downloadPhase(ctx context.Context, snapshot []record.SyncRecord, preKnown map[record.Key]record.SyncRecord, pendingKeys map[record.Key]bool) (int, int, error) {
	downloaded := 0
	newConflicts := 0
	var received []record.SyncRecord

	for i, remoteRec := range snapshot {
		key := remoteRec.Key()
		known, wasKnown := preKnown[key]
		if !pendingKeys[key] {
			// For keys uploaded this cycle remoteKnown already holds the
			// freshly stamped record; the snapshot entry is stale for them.
			e.remoteKnown[key] = remoteRec
		}

		localRec, exists := e.local[key]
		if !exists {
			remoteRec.Status = record.StatusSynced
			e.local[key] = remoteRec
			downloaded++
			received = append(received, remoteRec)
			e.observer.OnProgress(i+1, len(snapshot), "download")
			continue
		}

		remoteChanged := !wasKnown || known.ChangeTag != remoteRec.ChangeTag ||
			remoteRec.ServerModified.After(known.ServerModified)
		localChanged := localRec.Status == record.StatusPending || pendingKeys[key]

		if remoteChanged && localChanged && e.detector.Detect(localRec, remoteRec) {
			conflict := e.detector.NewConflict(localRec, remoteRec)
			e.auditConflict(ctx, conflict)

			localRec.Status = record.StatusConflict
			e.local[key] = localRec

			if resolved := e.observer.OnConflict(conflict); resolved != nil {
				// Observer short-circuited automatic resolution.
				e.applyResolved(*resolved)
				newConflicts++
			} else {
				e.conflicts = append(e.conflicts, conflict)
				newConflicts++
			}
			e.observer.OnProgress(i+1, len(snapshot), "download")
			continue
		}

		if remoteChanged && !pendingKeys[key] && remoteRec.ServerModified.After(localRec.ServerModified) {
			remoteRec.Status = record.StatusSynced
			e.local[key] = remoteRec
			downloaded++
			received = append(received, remoteRec)
		}
		e.observer.OnProgress(i+1, len(snapshot), "download")
	}

	if len(received) > 0 {
		e.observer.OnRecordsReceived(received)
	}
	return downloaded, newConflicts, nil
}

// resolutionPhase disposes of the in-flight conflict set: each conflict goes
// through the configured strategy (the observer first for the custom
// strategy), and winning records are applied locally and re-uploaded. The
// set is cleared regardless of individual outcomes; unresolved divergence is
// re-detected on the next cycle.
func (e *Engine) resolutionPhase(ctx context.Context) (int, error) {
	if len(e.conflicts) == 0 {
		return 0, nil
	}

	var contexts []*record.ConflictContext
	resolved := 0

	for _, conflict := range e.conflicts {
		if e.cfg.Strategy == StrategyCustom {
			if rec := e.observer.OnConflict(conflict); rec != nil {
				if err := e.applyAndReupload(ctx, *rec); err != nil {
					return resolved, err
				}
				resolved++
				continue
			}
		}
		contexts = append(contexts, &record.ConflictContext{
			Conflict:  conflict,
			Strategy:  string(e.cfg.Strategy),
			Automatic: true,
			Actor:     "engine",
		})
	}

	results := e.resolutions.ResolveBatch(ctx, contexts)
	for i, result := range results {
		rec, ok := result.Apply(contexts[i].Conflict)
		if !ok {
			// Skipped or deferred: local state stays as-is and the
			// divergence, if still present, is re-detected later.
			continue
		}
		if err := e.applyAndReupload(ctx, rec); err != nil {
			return resolved, err
		}
		resolved++
	}

	e.conflicts = e.conflicts[:0]
	return resolved, nil
}

func (e *Engine) applyResolved(rec record.SyncRecord) {
	rec.Status = record.StatusPending
	e.local[rec.Key()] = rec
	e.enqueue(record.ChangeUpdate, rec)
}

func (e *Engine) applyAndReupload(ctx context.Context, rec record.SyncRecord) error {
	e.applyResolved(rec)

	key := rec.Key()
	stamped, err := e.remote.Upload(ctx, e.local[key])
	if err != nil {
		return fmt.Errorf("re-upload %s/%s: %w", key.RecordType, key.ID, err)
	}
	e.local[key] = stamped
	e.remoteKnown[key] = stamped
	e.dropPending(key)
	return nil
}

func (e *Engine) enqueue(changeType record.ChangeType, rec record.SyncRecord) {
	e.pending = append(e.pending, record.SyncChange{
		ID:        uuid.New().String(),
		Type:      changeType,
		Record:    rec,
		Timestamp: time.Now(),
		Source:    record.SourceLocal,
	})
}

func (e *Engine) dropPending(key record.Key) {
	remaining := e.pending[:0]
	for _, change := range e.pending {
		if change.Record.Key() != key {
			remaining = append(remaining, change)
		}
	}
	e.pending = remaining
}

func (e *Engine) auditConflict(ctx context.Context, conflict *record.SyncConflict) {
	if e.audit == nil {
		return
	}
	row := &store.ConflictRow{
		ID:         conflict.ID,
		RecordType: conflict.RecordType,
		RecordID:   conflict.RecordID,
		LocalData:  conflict.Local.Payload,
		RemoteData: conflict.Remote.Payload,
		DetectedAt: conflict.DetectedAt,
	}
	if err := e.audit.CreateConflict(ctx, row); err != nil {
		logger.Log.Warn("Failed to persist conflict", zap.Error(err))
	}
}

func (e *Engine) auditRun(ctx context.Context, run *store.SyncRun, create bool) {
	if e.audit == nil {
		return
	}
	var err error
	if create {
		err = e.audit.CreateSyncRun(ctx, run)
	} else {
		err = e.audit.UpdateSyncRun(ctx, run)
	}
	if err != nil {
		logger.Log.Warn("Failed to persist sync run", zap.Error(err))
	}
}
