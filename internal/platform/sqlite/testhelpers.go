package sqlite

import (
	"context"
	"database/sql"
	"testing"
)

// TestDB wraps an SQLite database with helpers for store tests.
type TestDB struct {
	DB *sql.DB
}

// NewTestDBInMemory creates an in-memory SQLite DB for tests, closed
// automatically on test cleanup.
func NewTestDBInMemory(t *testing.T) *TestDB {
	t.Helper()

	db, err := NewInMemoryDB(context.Background())
	if err != nil {
		t.Fatalf("create in-memory test DB: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return &TestDB{DB: db}
}

// Exec runs an SQL statement and fails the test on error.
func (tdb *TestDB) Exec(t *testing.T, query string, args ...any) sql.Result {
	t.Helper()

	result, err := tdb.DB.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("execute query: %v", err)
	}
	return result
}

// QueryRow runs a query expected to return a single row.
func (tdb *TestDB) QueryRow(t *testing.T, query string, args ...any) *sql.Row {
	t.Helper()
	return tdb.DB.QueryRowContext(context.Background(), query, args...)
}

// CountRows returns the number of rows in a table.
func (tdb *TestDB) CountRows(t *testing.T, tableName string) int {
	t.Helper()

	var count int
	if err := tdb.QueryRow(t, "SELECT COUNT(*) FROM "+tableName).Scan(&count); err != nil {
		t.Fatalf("count rows in table %s: %v", tableName, err)
	}
	return count
}
