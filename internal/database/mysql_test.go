package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordsync/internal/config"
)

// Port 1 is never listening, so every connection attempt fails fast.
func unreachableDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(config.DatabaseConnection{
		Host:     "127.0.0.1",
		Port:     1,
		User:     "sync",
		Password: "sync",
		Database: "records",
	})
	require.NoError(t, err, "opening a handle does not dial")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWaitReadyGivesUpWhenContextExpires(t *testing.T) {
	db := unreachableDatabase(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := db.WaitReady(ctx, 20*time.Millisecond)
	require.Error(t, err)
	require.ErrorContains(t, err, "database not ready")
}

func TestExecTxPropagatesBeginFailure(t *testing.T) {
	db := unreachableDatabase(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	called := false
	err := db.ExecTx(ctx, func(tx *sql.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called, "the body never runs without a transaction")
}
