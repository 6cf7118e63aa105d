// Package record defines the versioned unit of data exchanged between the
// local and remote replicas, plus the change/conflict value types that flow
// through the sync engine.
package record

import (
	"time"
)

type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
	StatusConflict SyncStatus = "conflict"
)

// SyncRecord is the unit of replication. Payload is an opaque blob produced
// by the serializer boundary; the engine never interprets it except through
// a Codec. A record with Deleted=true is a tombstone: it still participates
// in conflict detection and upload, but is excluded from fetch-all reads.
type SyncRecord struct {
	ID             string     `json:"id"`
	RecordType     string     `json:"record_type"`
	Payload        []byte     `json:"payload"`
	LocalModified  time.Time  `json:"local_modified"`
	ServerModified time.Time  `json:"server_modified,omitempty"`
	ChangeTag      string     `json:"change_tag,omitempty"`
	Deleted        bool       `json:"deleted"`
	Status         SyncStatus `json:"status"`
}

// SameLogical reports whether two records refer to the same logical record:
// identifier and record type both match.
func (r SyncRecord) SameLogical(other SyncRecord) bool {
	return r.ID == other.ID && r.RecordType == other.RecordType
}

// HasServerModified reports whether the record has ever been seen by the
// remote replica. A zero time means "never uploaded"; comparisons treat it
// as the distant past.
func (r SyncRecord) HasServerModified() bool {
	return !r.ServerModified.IsZero()
}

// Key identifies a logical record across both replicas.
type Key struct {
	RecordType string
	ID         string
}

func (r SyncRecord) Key() Key {
	return Key{RecordType: r.RecordType, ID: r.ID}
}

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

type ChangeSource string

const (
	SourceLocal  ChangeSource = "local"
	SourceRemote ChangeSource = "remote"
)

// SyncChange is an intent to propagate a local mutation to the remote
// replica. It is created on every local CRUD call and consumed once the
// record has been uploaded.
type SyncChange struct {
	ID        string       `json:"id"`
	Type      ChangeType   `json:"type"`
	Record    SyncRecord   `json:"record"`
	Timestamp time.Time    `json:"timestamp"`
	Source    ChangeSource `json:"source"`
}

// SyncConflict is a detected divergence between the two replicas for one
// logical record. It lives in the engine's in-flight conflict set until a
// resolver disposes of it.
type SyncConflict struct {
	ID         string     `json:"id"`
	RecordType string     `json:"record_type"`
	RecordID   string     `json:"record_id"`
	Local      SyncRecord `json:"local"`
	Remote     SyncRecord `json:"remote"`
	DetectedAt time.Time  `json:"detected_at"`
}

// ConflictContext is the ephemeral input handed to a resolver. It is never
// persisted.
type ConflictContext struct {
	Conflict  *SyncConflict
	Strategy  string
	Metadata  map[string]any
	Automatic bool
	Actor     string
}
