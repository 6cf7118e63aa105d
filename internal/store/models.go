package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ConflictRow is the persisted audit form of a detected conflict.
type ConflictRow struct {
	ID           string          `db:"id"`
	RecordType   string          `db:"record_type"`
	RecordID     string          `db:"record_id"`
	LocalData    json.RawMessage `db:"local_data"`
	RemoteData   json.RawMessage `db:"remote_data"`
	DetectedAt   time.Time       `db:"detected_at"`
	Resolved     bool            `db:"resolved"`
	Resolver     sql.NullString  `db:"resolver"`
	Resolution   sql.NullString  `db:"resolution"`
	ResolvedAt   sql.NullTime    `db:"resolved_at"`
	ResolvedData json.RawMessage `db:"resolved_data"`
}

// SyncRun is the persisted audit form of one sync cycle.
type SyncRun struct {
	ID                string         `db:"id"`
	StartedAt         time.Time      `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	Uploaded          int64          `db:"uploaded"`
	Downloaded        int64          `db:"downloaded"`
	ConflictsDetected int            `db:"conflicts_detected"`
	Status            string         `db:"status"`
	ErrorMessage      sql.NullString `db:"error_message"`
}
