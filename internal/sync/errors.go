package sync

import (
	"errors"

	"recordsync/internal/transport"
)

// Engine-side failures.
var (
	// ErrNotFound is returned by update/fetch operations when no local
	// record exists for the given id.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidData marks a payload that could not be decoded into the
	// structure a resolver expected.
	ErrInvalidData = errors.New("invalid record data")

	// ErrNoResolverFound is returned when no registered resolver can handle
	// a conflict. Callers should register a catch-all resolver (typically
	// last-write-wins) to avoid it in production.
	ErrNoResolverFound = errors.New("no resolver found for conflict")

	// ErrMergeFailure marks a resolver whose internal logic could not
	// complete.
	ErrMergeFailure = errors.New("merge failed")

	// ErrBaseVersionUnavailable is returned when a three-way merge needs a
	// base snapshot, the provider has none, and the fallback also failed.
	ErrBaseVersionUnavailable = errors.New("base version unavailable")
)

// Transport-reported conditions, re-exported so callers can match them
// without importing the transport package. Surfaced as-is through sync
// failures.
var (
	ErrNetworkUnavailable = transport.ErrNetworkUnavailable
	ErrQuotaExceeded      = transport.ErrQuotaExceeded
	ErrServerError        = transport.ErrServerError
	ErrZoneNotFound       = transport.ErrZoneNotFound
	ErrPartialFailure     = transport.ErrPartialFailure
)
