package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"emsreport/internal/schedule"
	"emsreport/internal/shared"
)

// SQLiteStore persists job records in an embedded sqlite database.
// Recipients are stored as a JSON array since sqlite has no array type.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore over an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, rec schedule.Record) error {
	recipients, err := json.Marshal(rec.Recipients)
	if err != nil {
		return shared.Wrap(err, "encode recipients")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs
			(id, recipients, cron_expression, time_zone, user_local_time,
			 period, days, domain, group_by, type, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(recipients), rec.CronExpression, rec.Timezone, rec.LocalTime,
		rec.Period, rec.Days, rec.Domain, rec.GroupBy, rec.Type, boolToInt(rec.IsActive),
	)
	if err != nil {
		return shared.Wrapf(err, "insert scheduled job %s", rec.ID)
	}
	return nil
}

func (s *SQLiteStore) FindAll(ctx context.Context) ([]schedule.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipients, cron_expression, time_zone,
		       COALESCE(user_local_time, ''),
		       period, days, domain, group_by, type, is_active,
		       created_at, updated_at
		FROM scheduled_jobs
		ORDER BY created_at, id`)
	if err != nil {
		return nil, shared.Wrap(err, "query scheduled jobs")
	}
	defer rows.Close()

	var recs []schedule.Record
	for rows.Next() {
		var (
			rec                  schedule.Record
			recipients           string
			active               int
			createdAt, updatedAt string
		)
		err := rows.Scan(
			&rec.ID, &recipients, &rec.CronExpression, &rec.Timezone,
			&rec.LocalTime, &rec.Period, &rec.Days, &rec.Domain,
			&rec.GroupBy, &rec.Type, &active, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, shared.Wrap(err, "scan scheduled job")
		}
		if err := json.Unmarshal([]byte(recipients), &rec.Recipients); err != nil {
			return nil, shared.Wrapf(err, "decode recipients for job %s", rec.ID)
		}
		rec.IsActive = active != 0
		rec.CreatedAt = parseSQLiteTime(createdAt)
		rec.UpdatedAt = parseSQLiteTime(updatedAt)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(err, "iterate scheduled jobs")
	}
	return recs, nil
}

func (s *SQLiteStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET is_active = 0, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`, id)
	if err != nil {
		return shared.Wrapf(err, "deactivate scheduled job %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return shared.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return shared.MarkKind(fmt.Errorf("scheduled job %s", id), shared.KindNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05.999Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ schedule.Store = (*SQLiteStore)(nil)
