package sync

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"recordsync/internal/record"
)

// DetectionMode selects the heuristic used to decide whether two versions of
// the same logical record diverge.
type DetectionMode string

const (
	// DetectTimestamp flags a conflict when the local and server
	// modification times differ by more than the configured tolerance.
	// Too strict on its own: clock skew and near-simultaneous writes
	// produce false positives.
	DetectTimestamp DetectionMode = "timestamp"

	// DetectChangeTag flags a conflict when both sides carry a
	// server-assigned change tag and the tags differ. Authoritative when
	// the remote assigns fresh tokens per write.
	DetectChangeTag DetectionMode = "changetag"

	// DetectContent flags a conflict when the raw payloads differ
	// byte-for-byte.
	DetectContent DetectionMode = "content"

	// DetectCombined is timestamp OR changetag: trades precision for
	// recall so real conflicts are not silently missed. Default.
	DetectCombined DetectionMode = "combined"
)

func (m DetectionMode) IsValid() bool {
	switch m {
	case DetectTimestamp, DetectChangeTag, DetectContent, DetectCombined:
		return true
	default:
		return false
	}
}

// DefaultTimestampTolerance absorbs clock skew between replicas.
const DefaultTimestampTolerance = time.Second

// Detector decides whether a local and a remote version of the same logical
// record diverge.
type Detector struct {
	mode      DetectionMode
	tolerance time.Duration
}

func NewDetector(mode DetectionMode, tolerance time.Duration) *Detector {
	if !mode.IsValid() {
		mode = DetectCombined
	}
	if tolerance <= 0 {
		tolerance = DefaultTimestampTolerance
	}
	return &Detector{mode: mode, tolerance: tolerance}
}

// Detect reports whether local and remote conflict under the configured
// mode. Records that are not the same logical record never conflict.
func (d *Detector) Detect(local, remote record.SyncRecord) bool {
	if !local.SameLogical(remote) {
		return false
	}

	switch d.mode {
	case DetectTimestamp:
		return d.timestampsDiverge(local, remote)
	case DetectChangeTag:
		return changeTagsDiverge(local, remote)
	case DetectContent:
		return payloadsDiverge(local, remote)
	default:
		return d.timestampsDiverge(local, remote) || changeTagsDiverge(local, remote)
	}
}

// NewConflict builds the conflict value appended to the engine's in-flight
// set when Detect reports divergence.
func (d *Detector) NewConflict(local, remote record.SyncRecord) *record.SyncConflict {
	return &record.SyncConflict{
		ID:         uuid.New().String(),
		RecordType: local.RecordType,
		RecordID:   local.ID,
		Local:      local,
		Remote:     remote,
		DetectedAt: time.Now(),
	}
}

func (d *Detector) timestampsDiverge(local, remote record.SyncRecord) bool {
	// A remote record never uploaded counts as the distant past.
	server := remote.ServerModified
	diff := local.LocalModified.Sub(server)
	if diff < 0 {
		diff = -diff
	}
	return diff > d.tolerance
}

func changeTagsDiverge(local, remote record.SyncRecord) bool {
	return local.ChangeTag != "" && remote.ChangeTag != "" && local.ChangeTag != remote.ChangeTag
}

func payloadsDiverge(local, remote record.SyncRecord) bool {
	return xxhash.Sum64(local.Payload) != xxhash.Sum64(remote.Payload)
}
