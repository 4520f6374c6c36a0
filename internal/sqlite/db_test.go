package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestDB creates a new in-memory SQLite database for testing
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(":memory:")
	require.NoError(t, err, "failed to create test database")

	err = db.RunMigrations()
	require.NoError(t, err, "failed to run migrations")

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// TestMigrations verifies that migrations run successfully
func TestMigrations(t *testing.T) {
	db := NewTestDB(t)

	tables := []string{
		"documents",
		"actions",
		"processing_records",
		"processing_transitions",
		"destination_counters",
	}

	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err, "failed to query table %s", table)
		require.Equal(t, 1, count, "table %s not found", table)
	}
}

// TestForeignKeys verifies that foreign key constraints are enabled
func TestForeignKeys(t *testing.T) {
	db := NewTestDB(t)

	var enabled int
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled)
	require.NoError(t, err)
	require.Equal(t, 1, enabled, "foreign keys not enabled")
}

// TestStateConstraint verifies the processing state CHECK constraint
func TestStateConstraint(t *testing.T) {
	db := NewTestDB(t)

	now := "2026-01-01 00:00:00"
	_, err := db.Exec(
		`INSERT INTO processing_records (document_key, content_hash, state, retries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"a.md", "hash1", "nonsense", "{}", now, now)
	require.Error(t, err, "should reject unknown state")

	_, err = db.Exec(
		`INSERT INTO processing_records (document_key, content_hash, state, retries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"a.md", "hash1", "discovered", "{}", now, now)
	require.NoError(t, err)
}
