package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"emsreport/internal/shared"
)

// entry pairs the live cron handle with the job metadata it was registered
// with. The running mutex enforces at most one pipeline execution per job.
type entry struct {
	cronID   cron.EntryID
	job      Job
	nextRun  time.Time
	running  sync.Mutex
	inFlight atomic.Bool
}

// Core owns the timer subsystem. All timers evaluate against the UTC clock
// regardless of the timezone a job was scheduled in. The registry of live
// entries is an in-memory cache only; the job store owns durability.
type Core struct {
	cron     *cron.Cron
	log      *slog.Logger
	pipeline Pipeline
	renderer Renderer
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*entry

	startOnce sync.Once
	stopOnce  sync.Once
}

// Config configures the scheduler core.
type Config struct {
	Logger   *slog.Logger
	Pipeline Pipeline
	Renderer Renderer
	Notifier Notifier
}

// cronLogger bridges the cron library's logger to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}

// New creates a scheduler core with a background context.
func New(cfg Config) *Core {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext creates a scheduler core whose ticks inherit from the
// given parent context.
func NewWithContext(parent context.Context, cfg Config) *Core {
	ctx, cancel := context.WithCancel(parent)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Core{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{logger: logger.With("component", "cron")}),
		),
		log:      logger,
		pipeline: cfg.Pipeline,
		renderer: cfg.Renderer,
		notifier: cfg.Notifier,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}
}

// Schedule registers a recurring timer for the job and returns its summary,
// including the computed next-run estimate. A job without an ID is assigned
// a fresh one; recovery passes the persisted ID through unchanged. An ID
// that is already registered is rejected.
func (c *Core) Schedule(job Job) (Summary, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	e := &entry{job: job, nextRun: job.Rule.NextRun(time.Now())}

	// Snapshot before the entry goes live: once AddFunc returns, a tick
	// may rewrite nextRun concurrently.
	summary := c.summarize(e)

	expr := job.Rule.CronExpr()
	cronID, err := c.cron.AddFunc(expr, func() {
		c.runJob(e)
	})
	if err != nil {
		return Summary{}, shared.Wrapf(shared.MarkKind(err, shared.KindValidation), "register recurrence %q", expr)
	}
	e.cronID = cronID

	c.mu.Lock()
	if _, exists := c.entries[job.ID]; exists {
		c.mu.Unlock()
		c.cron.Remove(cronID)
		return Summary{}, shared.MarkKind(fmt.Errorf("job %q is already scheduled", job.ID), shared.KindValidation)
	}
	c.entries[job.ID] = e
	c.mu.Unlock()

	c.log.Info("job scheduled",
		slog.String("job_id", job.ID),
		slog.String("cron", expr),
		slog.String("local_time", job.Rule.LocalTime),
		slog.String("timezone", job.Rule.Timezone),
		slog.Time("next_run", summary.NextRunAtUTC))

	return summary, nil
}

// Cancel stops the job's timer and removes it from the registry. Returns
// false when the id is unknown. An execution already in flight runs to
// completion; the per-tick pipeline does not mutate shared state.
func (c *Core) Cancel(id string) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.cron.Remove(e.cronID)
	c.log.Info("job cancelled", slog.String("job_id", id))
	return true
}

// List returns summaries for every currently registered job, ordered by id.
// Safe to call concurrently with ticks.
func (c *Core) List() []Summary {
	c.mu.RLock()
	out := make([]Summary, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, c.summarize(e))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Core) summarize(e *entry) Summary {
	return Summary{
		ID:           e.job.ID,
		Recipients:   e.job.Recipients,
		Timezone:     e.job.Rule.Timezone,
		LocalTime:    e.job.Rule.LocalTime,
		UTCTime:      e.job.Rule.UTCTime,
		CronExpr:     e.job.Rule.CronExpr(),
		NextRunAtUTC: e.nextRun,
		Running:      e.inFlight.Load(),
	}
}

// Start starts the timer subsystem.
func (c *Core) Start() {
	c.startOnce.Do(func() {
		c.log.Info("starting scheduler")
		c.cron.Start()

		go func() {
			<-c.ctx.Done()
			c.stopOnce.Do(c.stop)
		}()
	})
}

// Stop stops the scheduler and waits for running ticks to finish.
func (c *Core) Stop() {
	c.cancel()
	c.stopOnce.Do(c.stop)
}

// StopContext stops the scheduler, bounded by the context deadline. The
// drain continues in the background if the deadline expires first.
func (c *Core) StopContext(ctx context.Context) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.stopOnce.Do(c.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.log.Warn("scheduler stop deadline exceeded, shutdown continues in background")
		return ctx.Err()
	}
}

func (c *Core) stop() {
	drained := c.cron.Stop()
	<-drained.Done()
	c.log.Info("scheduler stopped")
}

// runJob executes one tick for the job. At most one execution per job may
// be in flight: a tick arriving while the previous one is still running is
// skipped and logged, never queued.
func (c *Core) runJob(e *entry) {
	job := e.job // read-only snapshot for the whole tick

	if !e.running.TryLock() {
		c.log.Warn("tick skipped, previous execution still in flight", slog.String("job_id", job.ID))
		return
	}
	defer e.running.Unlock()

	e.inFlight.Store(true)
	defer e.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("tick panicked", slog.String("job_id", job.ID), slog.Any("panic", r))
		}
	}()

	// Advance the estimate whether the tick succeeds or fails; the job
	// stays registered either way.
	defer func() {
		next := job.Rule.NextRun(time.Now())
		c.mu.Lock()
		e.nextRun = next
		c.mu.Unlock()
	}()

	start := time.Now()
	c.log.Info("executing job", slog.String("job_id", job.ID), slog.Any("recipients", job.Recipients))

	if err := c.runPipeline(c.ctx, job); err != nil {
		c.log.Error("tick failed",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
			slog.Duration("dur", time.Since(start)))
		return
	}

	c.log.Info("tick completed", slog.String("job_id", job.ID), slog.Duration("dur", time.Since(start)))
}

// runPipeline performs the tick's steps in order: fetch, chart render,
// workbook render, send. The first failure aborts the remaining steps for
// this tick only; there is no same-tick retry.
func (c *Core) runPipeline(ctx context.Context, job Job) error {
	rep, err := c.pipeline.Fetch(ctx, job.Filter)
	if err != nil {
		return fmt.Errorf("fetch report: %w", err)
	}

	charts, err := c.renderer.RenderCharts(ctx, rep)
	if err != nil {
		return fmt.Errorf("render charts: %w", err)
	}

	doc, err := c.renderer.RenderWorkbook(ctx, rep, charts)
	if err != nil {
		return fmt.Errorf("render workbook: %w", err)
	}

	if err := c.notifier.Send(ctx, job.Recipients, doc); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}
