package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emsreport/internal/shared"
)

type fakeStore struct {
	records []Record
	findErr error

	inserted    []Record
	deactivated []string
}

func (s *fakeStore) Insert(_ context.Context, rec Record) error {
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) FindAll(context.Context) ([]Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.records, nil
}

func (s *fakeStore) Deactivate(_ context.Context, id string) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

func storedRecord(id, expr string) Record {
	return Record{
		ID:             id,
		Recipients:     []string{"ops@example.com"},
		CronExpression: expr,
		Timezone:       "UTC",
		LocalTime:      "06:00",
		Period:         "DAILY",
		Days:           "*",
		Domain:         "acme",
		GroupBy:        "meter",
		Type:           "LVPMeter",
		IsActive:       true,
	}
}

func TestRecoverAll(t *testing.T) {
	store := &fakeStore{records: []Record{
		storedRecord("r1", "0 6 * * *"),
		storedRecord("r2", "30 7 * * 1-5"),
		storedRecord("r3", "15 9 * * 1,3,5"),
	}}
	core := newTestCore(t, nil, nil)

	n, err := NewRecoverer(store, core, nil).RecoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list := core.List()
	require.Len(t, list, 3)
	assert.Equal(t, "r1", list[0].ID)
	assert.Equal(t, "0 6 * * *", list[0].CronExpr)
	assert.Equal(t, "r2", list[1].ID)
	assert.Equal(t, "r3", list[2].ID)
}

func TestRecoverAllSkipsMalformedRecord(t *testing.T) {
	store := &fakeStore{records: []Record{
		storedRecord("good-1", "0 6 * * *"),
		storedRecord("broken", "every day at six"),
		storedRecord("good-2", "45 18 * * 0,6"),
	}}
	core := newTestCore(t, nil, nil)

	n, err := NewRecoverer(store, core, nil).RecoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list := core.List()
	require.Len(t, list, 2)
	assert.Equal(t, "good-1", list[0].ID)
	assert.Equal(t, "good-2", list[1].ID)
}

func TestRecoverAllStoreFailure(t *testing.T) {
	store := &fakeStore{findErr: errors.New("connection refused")}
	core := newTestCore(t, nil, nil)

	n, err := NewRecoverer(store, core, nil).RecoverAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, shared.IsDependencyFailure(err))
}

func TestRecoverAllEmptyStore(t *testing.T) {
	core := newTestCore(t, nil, nil)

	n, err := NewRecoverer(&fakeStore{}, core, nil).RecoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, core.List())
}
