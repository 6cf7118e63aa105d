package store

import (
	"context"
	"database/sql"
	"fmt"

	"recordsync/internal/database"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conflicts (
		id            VARCHAR(36)  NOT NULL PRIMARY KEY,
		record_type   VARCHAR(128) NOT NULL,
		record_id     VARCHAR(128) NOT NULL,
		local_data    MEDIUMBLOB,
		remote_data   MEDIUMBLOB,
		detected_at   DATETIME(6)  NOT NULL,
		resolved      BOOLEAN      NOT NULL DEFAULT FALSE,
		resolver      VARCHAR(64),
		resolution    VARCHAR(32),
		resolved_at   DATETIME(6),
		resolved_data MEDIUMBLOB,
		INDEX idx_conflicts_resolved (resolved, detected_at)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id                 VARCHAR(36) NOT NULL PRIMARY KEY,
		started_at         DATETIME(6) NOT NULL,
		completed_at       DATETIME(6),
		uploaded           BIGINT      NOT NULL DEFAULT 0,
		downloaded         BIGINT      NOT NULL DEFAULT 0,
		conflicts_detected INT         NOT NULL DEFAULT 0,
		status             VARCHAR(32) NOT NULL,
		error_message      TEXT,
		INDEX idx_sync_runs_started (started_at)
	)`,
}

type MySQLStore struct {
	db *database.Database
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore initializes the audit schema on an already-reachable
// database handle. Callers wait for readiness via Database.WaitReady.
func NewMySQLStore(db *database.Database) (*MySQLStore, error) {
	for _, stmt := range schemaStatements {
		if _, err := db.DB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to init state schema: %w", err)
		}
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) CreateConflict(ctx context.Context, conflict *ConflictRow) error {
	query := `INSERT INTO conflicts (id, record_type, record_id, local_data, remote_data, detected_at, resolved)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		conflict.ID,
		conflict.RecordType,
		conflict.RecordID,
		conflict.LocalData,
		conflict.RemoteData,
		conflict.DetectedAt,
		conflict.Resolved,
	)

	return err
}

func (s *MySQLStore) GetConflict(ctx context.Context, id string) (*ConflictRow, error) {
	query := `SELECT id, record_type, record_id, local_data, remote_data, detected_at, resolved, resolver, resolution, resolved_at, resolved_data
			  FROM conflicts WHERE id = ?`

	row := s.db.DB.QueryRowContext(ctx, query, id)

	var c ConflictRow
	err := row.Scan(
		&c.ID,
		&c.RecordType,
		&c.RecordID,
		&c.LocalData,
		&c.RemoteData,
		&c.DetectedAt,
		&c.Resolved,
		&c.Resolver,
		&c.Resolution,
		&c.ResolvedAt,
		&c.ResolvedData,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (s *MySQLStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*ConflictRow, error) {
	query := `SELECT id, record_type, record_id, local_data, remote_data, detected_at, resolved, resolver, resolution, resolved_at, resolved_data
			  FROM conflicts WHERE resolved = ? ORDER BY detected_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, resolved, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*ConflictRow
	for rows.Next() {
		var c ConflictRow
		err := rows.Scan(
			&c.ID,
			&c.RecordType,
			&c.RecordID,
			&c.LocalData,
			&c.RemoteData,
			&c.DetectedAt,
			&c.Resolved,
			&c.Resolver,
			&c.Resolution,
			&c.ResolvedAt,
			&c.ResolvedData,
		)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, &c)
	}

	return conflicts, rows.Err()
}

// ResolveConflict marks a conflict resolved inside a transaction. The first
// resolution recorded for an id stands; later calls are no-ops.
func (s *MySQLStore) ResolveConflict(ctx context.Context, id, resolver, resolution string, resolvedData []byte) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var resolved bool
		err := tx.QueryRowContext(ctx, `SELECT resolved FROM conflicts WHERE id = ? FOR UPDATE`, id).Scan(&resolved)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if resolved {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE conflicts SET resolved = TRUE, resolver = ?, resolution = ?, resolved_data = ?, resolved_at = NOW(6) WHERE id = ?`,
			resolver, resolution, resolvedData, id)
		return err
	})
}

func (s *MySQLStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `INSERT INTO sync_runs (id, started_at, completed_at, uploaded, downloaded, conflicts_detected, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		run.ID,
		run.StartedAt,
		run.CompletedAt,
		run.Uploaded,
		run.Downloaded,
		run.ConflictsDetected,
		run.Status,
		run.ErrorMessage,
	)

	return err
}

func (s *MySQLStore) UpdateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `UPDATE sync_runs SET completed_at = ?, uploaded = ?, downloaded = ?, conflicts_detected = ?, status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.DB.ExecContext(ctx, query,
		run.CompletedAt,
		run.Uploaded,
		run.Downloaded,
		run.ConflictsDetected,
		run.Status,
		run.ErrorMessage,
		run.ID,
	)

	return err
}

func (s *MySQLStore) ListSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error) {
	query := `SELECT id, started_at, completed_at, uploaded, downloaded, conflicts_detected, status, error_message
			  FROM sync_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		err := rows.Scan(
			&r.ID,
			&r.StartedAt,
			&r.CompletedAt,
			&r.Uploaded,
			&r.Downloaded,
			&r.ConflictsDetected,
			&r.Status,
			&r.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}
