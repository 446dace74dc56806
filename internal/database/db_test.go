package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(context.Background()))
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RunMigrations(context.Background()))
	require.NoError(t, db.Ping(context.Background()))
}

func TestWithTxCommitAndRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	insert := func(tx *sqlx.Tx, id string) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, CURRENT_TIMESTAMP)`), id, "test")
		return err
	}

	require.NoError(t, db.WithTx(ctx, func(tx *sqlx.Tx) error { return insert(tx, "evt-1") }))

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insert(tx, "evt-2"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM processed_events`))
	assert.Equal(t, 1, count)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "", logger.NewNop())
	assert.ErrorContains(t, err, "unsupported")
}
