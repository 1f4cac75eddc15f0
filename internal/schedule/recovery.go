package schedule

import (
	"context"
	"log/slog"

	"emsreport/internal/shared"
)

// Recoverer re-registers durably stored jobs into a live scheduler core at
// process startup. Recovery is a best-effort batch: a record that fails to
// re-register is logged and skipped, never aborting the rest.
type Recoverer struct {
	store Store
	core  *Core
	log   *slog.Logger
}

// NewRecoverer creates a recovery driver over the given store and core.
func NewRecoverer(store Store, core *Core, log *slog.Logger) *Recoverer {
	if log == nil {
		log = slog.Default()
	}
	return &Recoverer{store: store, core: core, log: log}
}

// RecoverAll reads every persisted job record and re-registers each with
// the scheduler core, recomputing next-run times relative to now. Returns
// the number of jobs successfully re-registered. Every record found is
// re-registered, without filtering on the active flag.
func (r *Recoverer) RecoverAll(ctx context.Context) (int, error) {
	records, err := r.store.FindAll(ctx)
	if err != nil {
		return 0, shared.Wrap(shared.MarkKind(err, shared.KindDependencyFailure), "load job records")
	}
	r.log.Info("recovering scheduled jobs", slog.Int("found", len(records)))

	recovered := 0
	for _, rec := range records {
		job, err := JobFromRecord(rec)
		if err != nil {
			r.log.Warn("skipping unrecoverable job record",
				slog.String("job_id", rec.ID),
				slog.String("cron", rec.CronExpression),
				slog.Any("error", err))
			continue
		}
		if _, err := r.core.Schedule(job); err != nil {
			r.log.Warn("failed to re-register job",
				slog.String("job_id", rec.ID),
				slog.Any("error", err))
			continue
		}
		recovered++
	}

	r.log.Info("recovery complete", slog.Int("recovered", recovered), slog.Int("skipped", len(records)-recovered))
	return recovered, nil
}
