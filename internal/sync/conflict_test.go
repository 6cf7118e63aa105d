package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordsync/internal/record"
)

func makePair(localOffset, serverOffset time.Duration) (record.SyncRecord, record.SyncRecord) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := record.SyncRecord{
		ID:            "r1",
		RecordType:    "note",
		Payload:       []byte(`{"v":1}`),
		LocalModified: base.Add(localOffset),
	}
	remote := record.SyncRecord{
		ID:             "r1",
		RecordType:     "note",
		Payload:        []byte(`{"v":2}`),
		ServerModified: base.Add(serverOffset),
	}
	return local, remote
}

func TestDetectorDifferentLogicalRecords(t *testing.T) {
	d := NewDetector(DetectCombined, time.Second)
	local, remote := makePair(0, time.Minute)
	remote.ID = "other"

	require.False(t, d.Detect(local, remote))
}

func TestDetectorTimestampTolerance(t *testing.T) {
	d := NewDetector(DetectTimestamp, time.Second)

	local, remote := makePair(0, 500*time.Millisecond)
	require.False(t, d.Detect(local, remote), "within tolerance is not a conflict")

	local, remote = makePair(0, time.Second)
	require.False(t, d.Detect(local, remote), "exactly the tolerance is not a conflict")

	local, remote = makePair(0, 2*time.Second)
	require.True(t, d.Detect(local, remote))

	// Symmetric: local ahead of server.
	local, remote = makePair(2*time.Second, 0)
	require.True(t, d.Detect(local, remote))
}

func TestDetectorChangeTag(t *testing.T) {
	d := NewDetector(DetectChangeTag, time.Second)

	local, remote := makePair(0, time.Hour)
	require.False(t, d.Detect(local, remote), "missing tags never conflict")

	local.ChangeTag = "tag-a"
	require.False(t, d.Detect(local, remote), "one-sided tag never conflicts")

	remote.ChangeTag = "tag-a"
	require.False(t, d.Detect(local, remote))

	remote.ChangeTag = "tag-b"
	require.True(t, d.Detect(local, remote))
}

func TestDetectorContent(t *testing.T) {
	d := NewDetector(DetectContent, time.Second)

	local, remote := makePair(0, time.Hour)
	require.True(t, d.Detect(local, remote), "different payloads conflict regardless of time")

	remote.Payload = local.Payload
	require.False(t, d.Detect(local, remote))
}

func TestDetectorCombined(t *testing.T) {
	d := NewDetector(DetectCombined, time.Second)

	// Timestamps close, tags equal: no conflict.
	local, remote := makePair(0, 0)
	local.ChangeTag, remote.ChangeTag = "t", "t"
	require.False(t, d.Detect(local, remote))

	// Tag divergence alone is enough.
	remote.ChangeTag = "t2"
	require.True(t, d.Detect(local, remote))

	// Timestamp divergence alone is enough.
	local, remote = makePair(0, time.Minute)
	require.True(t, d.Detect(local, remote))
}

func TestDetectorDefaults(t *testing.T) {
	d := NewDetector("bogus", -1)
	require.Equal(t, DetectCombined, d.mode)
	require.Equal(t, DefaultTimestampTolerance, d.tolerance)
}

func TestNewConflictCarriesBothSides(t *testing.T) {
	d := NewDetector(DetectCombined, time.Second)
	local, remote := makePair(0, time.Minute)

	c := d.NewConflict(local, remote)
	require.NotEmpty(t, c.ID)
	require.Equal(t, "note", c.RecordType)
	require.Equal(t, "r1", c.RecordID)
	require.Equal(t, local.Payload, c.Local.Payload)
	require.Equal(t, remote.Payload, c.Remote.Payload)
	require.False(t, c.DetectedAt.IsZero())
}
