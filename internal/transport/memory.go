package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"recordsync/internal/record"
)

// MemoryTransport simulates a cloud key-value store in process memory.
// Besides serving as the default transport, it lets tests script remote-side
// writes and failure conditions.
type MemoryTransport struct {
	mu      sync.Mutex
	records map[record.Key]record.SyncRecord

	uploadErr error
	fetchErr  error
	offline   bool
}

var _ Transport = (*MemoryTransport)(nil)

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		records: make(map[record.Key]record.SyncRecord),
	}
}

func (t *MemoryTransport) Upload(ctx context.Context, rec record.SyncRecord) (record.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return record.SyncRecord{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.offline {
		return record.SyncRecord{}, ErrNetworkUnavailable
	}
	if t.uploadErr != nil {
		return record.SyncRecord{}, t.uploadErr
	}

	rec.ServerModified = time.Now()
	rec.ChangeTag = uuid.New().String()
	rec.Status = record.StatusSynced
	t.records[rec.Key()] = rec
	return rec, nil
}

func (t *MemoryTransport) FetchAll(ctx context.Context) ([]record.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.offline {
		return nil, ErrNetworkUnavailable
	}
	if t.fetchErr != nil {
		return nil, t.fetchErr
	}

	out := make([]record.SyncRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out, nil
}

func (t *MemoryTransport) Close() error { return nil }

// Put writes a record directly into the simulated remote, stamping server
// metadata, as if another client had uploaded it.
func (t *MemoryTransport) Put(rec record.SyncRecord) record.SyncRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.ServerModified.IsZero() {
		rec.ServerModified = time.Now()
	}
	if rec.ChangeTag == "" {
		rec.ChangeTag = uuid.New().String()
	}
	t.records[rec.Key()] = rec
	return rec
}

// Get returns the remote copy of a record, if present.
func (t *MemoryTransport) Get(recordType, id string) (record.SyncRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[record.Key{RecordType: recordType, ID: id}]
	return rec, ok
}

// Len reports the number of records on the simulated remote.
func (t *MemoryTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// SetOffline toggles simulated network loss.
func (t *MemoryTransport) SetOffline(offline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offline = offline
}

// SetUploadError makes subsequent uploads fail with err (nil clears).
func (t *MemoryTransport) SetUploadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploadErr = err
}

// SetFetchError makes subsequent fetches fail with err (nil clears).
func (t *MemoryTransport) SetFetchError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetchErr = err
}
