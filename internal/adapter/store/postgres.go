// Package store provides the job store implementations: postgres for the
// standard deployment, sqlite for embedded mode and tests.
package store

import (
	"context"
	"fmt"

	"emsreport/internal/platform/pg"
	"emsreport/internal/schedule"
	"emsreport/internal/shared"
)

// PostgresStore persists job records in Postgres via pgx. It resolves the
// querier per call, so it participates in a surrounding TxRunner
// transaction transparently.
type PostgresStore struct {
	runner *pg.TxRunner
}

// NewPostgresStore creates a PostgresStore over a transaction runner.
func NewPostgresStore(runner *pg.TxRunner) *PostgresStore {
	return &PostgresStore{runner: runner}
}

func (s *PostgresStore) Insert(ctx context.Context, rec schedule.Record) error {
	q := s.runner.GetQuerier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO scheduled_jobs
			(id, recipients, cron_expression, time_zone, user_local_time,
			 period, days, domain, group_by, type, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Recipients, rec.CronExpression, rec.Timezone, rec.LocalTime,
		rec.Period, rec.Days, rec.Domain, rec.GroupBy, rec.Type, rec.IsActive,
	)
	if err != nil {
		return shared.Wrapf(err, "insert scheduled job %s", rec.ID)
	}
	return nil
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]schedule.Record, error) {
	q := s.runner.GetQuerier(ctx)
	rows, err := q.Query(ctx, `
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
		var rec schedule.Record
		err := rows.Scan(
			&rec.ID, &rec.Recipients, &rec.CronExpression, &rec.Timezone,
			&rec.LocalTime, &rec.Period, &rec.Days, &rec.Domain,
			&rec.GroupBy, &rec.Type, &rec.IsActive,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, shared.Wrap(err, "scan scheduled job")
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(err, "iterate scheduled jobs")
	}
	return recs, nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, id string) error {
	q := s.runner.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE scheduled_jobs
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return shared.Wrapf(err, "deactivate scheduled job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return shared.MarkKind(fmt.Errorf("scheduled job %s", id), shared.KindNotFound)
	}
	return nil
}

var _ schedule.Store = (*PostgresStore)(nil)
