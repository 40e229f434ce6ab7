package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name                string
		filename            string
		expectedVersion     string
		expectedDescription string
	}{
		{name: "standard migration file", filename: "20261017093000_init_reservations.sql", expectedVersion: "20261017093000", expectedDescription: "init_reservations"},
		{name: "migration without description", filename: "20260101000000.sql", expectedVersion: "20260101000000", expectedDescription: ""},
		{name: "no extension", filename: "20260101000000_test", expectedVersion: "20260101000000", expectedDescription: "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, description := parseMigrationFilename(tt.filename)
			assert.Equal(t, tt.expectedVersion, version)
			assert.Equal(t, tt.expectedDescription, description)
		})
	}
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_revisions").Scan(&count))
	assert.Equal(t, 1, count)

	_, err = db.ExecContext(ctx, "SELECT session_id, server_uuid, protocol, host, port, pid, reserved_at FROM reservations")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening must not re-run applied migrations.
	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_revisions").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunMigrationCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	assert.ErrorIs(t, err, context.Canceled)
}
