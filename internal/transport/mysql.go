package transport

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"recordsync/internal/database"
	"recordsync/internal/record"
)

const createSyncRecordsTable = `
CREATE TABLE IF NOT EXISTS sync_records (
	record_type     VARCHAR(128)  NOT NULL,
	record_id       VARCHAR(128)  NOT NULL,
	payload         MEDIUMBLOB,
	compressed      BOOLEAN       NOT NULL DEFAULT FALSE,
	local_modified  DATETIME(6)   NOT NULL,
	server_modified DATETIME(6)   NOT NULL,
	change_tag      VARCHAR(36)   NOT NULL,
	deleted         BOOLEAN       NOT NULL DEFAULT FALSE,
	PRIMARY KEY (record_type, record_id)
)`

// MySQLTransport uses a MySQL table as the remote replica. Payloads are
// optionally snappy-compressed at rest.
type MySQLTransport struct {
	db       *database.Database
	compress bool
}

var _ Transport = (*MySQLTransport)(nil)

func NewMySQLTransport(db *database.Database, compress bool) (*MySQLTransport, error) {
	if _, err := db.DB.Exec(createSyncRecordsTable); err != nil {
		return nil, fmt.Errorf("failed to create sync_records table: %w", err)
	}
	return &MySQLTransport{db: db, compress: compress}, nil
}

func (t *MySQLTransport) Upload(ctx context.Context, rec record.SyncRecord) (record.SyncRecord, error) {
	rec.ServerModified = time.Now().UTC()
	rec.ChangeTag = uuid.New().String()
	rec.Status = record.StatusSynced

	payload := rec.Payload
	if t.compress {
		payload = snappy.Encode(nil, payload)
	}

	query := `INSERT INTO sync_records (record_type, record_id, payload, compressed, local_modified, server_modified, change_tag, deleted)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  payload = VALUES(payload),
			  compressed = VALUES(compressed),
			  local_modified = VALUES(local_modified),
			  server_modified = VALUES(server_modified),
			  change_tag = VALUES(change_tag),
			  deleted = VALUES(deleted)`

	_, err := t.db.DB.ExecContext(ctx, query,
		rec.RecordType,
		rec.ID,
		payload,
		t.compress,
		rec.LocalModified.UTC(),
		rec.ServerModified,
		rec.ChangeTag,
		rec.Deleted,
	)
	if err != nil {
		return record.SyncRecord{}, fmt.Errorf("%w: upload %s/%s: %v", ErrServerError, rec.RecordType, rec.ID, err)
	}

	return rec, nil
}

func (t *MySQLTransport) FetchAll(ctx context.Context) ([]record.SyncRecord, error) {
	query := `SELECT record_type, record_id, payload, compressed, local_modified, server_modified, change_tag, deleted
			  FROM sync_records`

	rows, err := t.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", ErrServerError, err)
	}
	defer rows.Close()

	var out []record.SyncRecord
	for rows.Next() {
		var (
			rec        record.SyncRecord
			payload    []byte
			compressed bool
			deleted    sql.NullBool
		)
		err := rows.Scan(
			&rec.RecordType,
			&rec.ID,
			&payload,
			&compressed,
			&rec.LocalModified,
			&rec.ServerModified,
			&rec.ChangeTag,
			&deleted,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrServerError, err)
		}

		if compressed {
			payload, err = snappy.Decode(nil, payload)
			if err != nil {
				return nil, fmt.Errorf("%w: decompress %s/%s: %v", ErrServerError, rec.RecordType, rec.ID, err)
			}
		}
		rec.Payload = payload
		rec.Deleted = deleted.Valid && deleted.Bool
		rec.Status = record.StatusSynced
		out = append(out, rec)
	}

	return out, rows.Err()
}

func (t *MySQLTransport) Close() error {
	return t.db.Close()
}
