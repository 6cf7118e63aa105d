package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordsync/internal/record"
)

func TestMemoryTransportUploadStampsServerMetadata(t *testing.T) {
	tr := NewMemoryTransport()

	rec := record.SyncRecord{
		ID:            "1",
		RecordType:    "note",
		Payload:       []byte(`{}`),
		LocalModified: time.Now(),
		Status:        record.StatusPending,
	}

	stamped, err := tr.Upload(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, stamped.ServerModified.IsZero())
	require.NotEmpty(t, stamped.ChangeTag)
	require.Equal(t, record.StatusSynced, stamped.Status)

	again, err := tr.Upload(context.Background(), rec)
	require.NoError(t, err)
	require.NotEqual(t, stamped.ChangeTag, again.ChangeTag, "every upload gets a fresh tag")
	require.Equal(t, 1, tr.Len())
}

func TestMemoryTransportFetchAll(t *testing.T) {
	tr := NewMemoryTransport()
	tr.Put(record.SyncRecord{ID: "1", RecordType: "note"})
	tr.Put(record.SyncRecord{ID: "2", RecordType: "task"})

	all, err := tr.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMemoryTransportFailureModes(t *testing.T) {
	tr := NewMemoryTransport()

	tr.SetOffline(true)
	_, err := tr.Upload(context.Background(), record.SyncRecord{ID: "1", RecordType: "note"})
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	_, err = tr.FetchAll(context.Background())
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	tr.SetOffline(false)

	boom := errors.New("boom")
	tr.SetUploadError(boom)
	_, err = tr.Upload(context.Background(), record.SyncRecord{ID: "1", RecordType: "note"})
	require.ErrorIs(t, err, boom)
	tr.SetUploadError(nil)

	_, err = tr.Upload(context.Background(), record.SyncRecord{ID: "1", RecordType: "note"})
	require.NoError(t, err)
}

func TestMemoryTransportHonorsContext(t *testing.T) {
	tr := NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Upload(ctx, record.SyncRecord{ID: "1", RecordType: "note"})
	require.ErrorIs(t, err, context.Canceled)
	_, err = tr.FetchAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
