// Package app wires the application together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"emsreport/internal/adapter/api"
	"emsreport/internal/adapter/ems"
	"emsreport/internal/adapter/notify"
	"emsreport/internal/adapter/store"
	"emsreport/internal/config"
	"emsreport/internal/platform/httpclient"
	"emsreport/internal/platform/logger"
	"emsreport/internal/platform/pg"
	"emsreport/internal/platform/sqlite"
	"emsreport/internal/report"
	"emsreport/internal/schedule"
)

const (
	dbWaitInterval  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "emsreport",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.log.Info("starting", "db_driver", a.cfg.DB.Driver)
	defer func() { _ = logger.Close(a.log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	client := httpclient.New(httpclient.WithLogger(a.log))
	emsClient := ems.New(ems.Config{
		BaseURL:    a.cfg.EMS.BaseURL,
		LoginURL:   a.cfg.EMS.LoginURL,
		Username:   a.cfg.EMS.Username,
		Password:   a.cfg.EMS.Password,
		RatePerSec: a.cfg.EMS.RatePerSec,
	}, client, a.log)
	pipeline := ems.NewPipeline(emsClient, a.log)
	renderer := report.NewExcelRenderer()
	mailer := notify.NewMailer(
		a.cfg.EMS.BaseURL+"/notification/1.0.0/notification/email",
		client, emsClient, a.log,
	)

	core := schedule.NewWithContext(ctx, schedule.Config{
		Logger:   a.log,
		Pipeline: pipeline,
		Renderer: renderer,
		Notifier: mailer,
	})

	recovered, err := schedule.NewRecoverer(jobStore, core, a.log).RecoverAll(ctx)
	if err != nil {
		return fmt.Errorf("recover scheduled jobs: %w", err)
	}
	a.log.Info("scheduled jobs recovered", "count", recovered)

	core.Start()

	if a.cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	srv := api.NewServer(core, jobStore, pipeline, renderer, a.log)
	srv.DefaultFilter = schedule.ReportFilter{
		Period:  a.cfg.Report.Period,
		Domain:  a.cfg.Report.Domain,
		GroupBy: a.cfg.Report.GroupBy,
		Type:    a.cfg.Report.Type,
	}
	srv.Routes(r)

	httpSrv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: r}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("server", slog.Any("err", err))
		}
	}()
	a.log.Info("listening", "addr", a.cfg.HTTP.Addr)

	<-ctx.Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http shutdown", slog.Any("err", err))
	}
	return core.StopContext(shutdownCtx)
}

// openStore opens the configured job store, waits for the database and
// applies migrations.
func (a *App) openStore(ctx context.Context) (schedule.Store, func(), error) {
	switch a.cfg.DB.Driver {
	case "postgres":
		dsn := a.cfg.PostgresDSN()
		if err := pg.WaitForDB(ctx, dsn, dbWaitInterval); err != nil {
			return nil, nil, fmt.Errorf("wait for postgres: %w", err)
		}
		if err := pg.ApplyMigrations(dsn, "file://migrations/postgres"); err != nil {
			return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		pool, err := pg.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store.NewPostgresStore(pg.NewTxRunner(pool)), pool.Close, nil

	case "sqlite":
		if err := sqlite.ApplyMigrations(a.cfg.DB.Path, "file://migrations/sqlite"); err != nil {
			return nil, nil, fmt.Errorf("apply sqlite migrations: %w", err)
		}
		db, err := sqlite.NewDB(ctx, a.cfg.DB.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store.NewSQLiteStore(db), func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", a.cfg.DB.Driver)
	}
}
