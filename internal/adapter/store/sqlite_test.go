package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emsreport/internal/platform/sqlite"
	"emsreport/internal/schedule"
	"emsreport/internal/shared"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tdb := sqlite.NewTestDBInMemory(t)

	ddl, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "sqlite", "000001_create_scheduled_jobs.up.sql"))
	require.NoError(t, err)
	tdb.Exec(t, string(ddl))

	return NewSQLiteStore(tdb.DB)
}

func sampleRecord(id string) schedule.Record {
	return schedule.Record{
		ID:             id,
		Recipients:     []string{"ops@example.com", "energy@example.com"},
		CronExpression: "0 6 * * 1-5",
		Timezone:       "Asia/Riyadh",
		LocalTime:      "09:00",
		Period:         "DAILY",
		Days:           "1-5",
		Domain:         "acme",
		GroupBy:        "meter",
		Type:           "LVPMeter",
		IsActive:       true,
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleRecord("job-1")))
	require.NoError(t, s.Insert(ctx, sampleRecord("job-2")))

	recs, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	got := recs[0]
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, []string{"ops@example.com", "energy@example.com"}, got.Recipients)
	assert.Equal(t, "0 6 * * 1-5", got.CronExpression)
	assert.Equal(t, "Asia/Riyadh", got.Timezone)
	assert.Equal(t, "09:00", got.LocalTime)
	assert.True(t, got.IsActive)
	assert.WithinDuration(t, time.Now().UTC(), got.CreatedAt, time.Minute)
}

func TestSQLiteStoreDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleRecord("dup")))
	require.Error(t, s.Insert(ctx, sampleRecord("dup")))
}

func TestSQLiteStoreDeactivate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleRecord("job-1")))
	require.NoError(t, s.Deactivate(ctx, "job-1"))

	recs, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].IsActive)
}

func TestSQLiteStoreDeactivateUnknown(t *testing.T) {
	s := newTestStore(t)

	err := s.Deactivate(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestSQLiteStoreFindAllEmpty(t *testing.T) {
	s := newTestStore(t)

	recs, err := s.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}
