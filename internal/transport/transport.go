// Package transport defines the remote-replica boundary the sync engine
// talks to, and the built-in implementations: an in-memory cloud simulator
// and a MySQL-backed replica.
package transport

import (
	"context"
	"errors"

	"recordsync/internal/record"
)

// Conditions reported by the remote side, surfaced to the engine as-is.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrServerError        = errors.New("server error")
	ErrZoneNotFound       = errors.New("zone not found")
	ErrPartialFailure     = errors.New("partial failure")
)

// Transport is the remote replica. Upload returns the record enriched with
// server metadata (server-modified time and a fresh change tag); FetchAll
// enumerates the remote record set, tombstones included.
type Transport interface {
	Upload(ctx context.Context, rec record.SyncRecord) (record.SyncRecord, error)
	FetchAll(ctx context.Context) ([]record.SyncRecord, error)
	Close() error
}
