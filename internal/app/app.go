// Package app wires the application together and manages the lifecycle of
// its long-running components: the Telegram listener, the task scheduler,
// and the HTTP ops API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"usebot/internal/config"
	"usebot/internal/database"
	"usebot/internal/delivery"
	"usebot/internal/delivery/telegram"
	"usebot/internal/funnel"
	"usebot/internal/httpapi"
	"usebot/internal/stats"
	"usebot/internal/tasks"
)

// App holds the assembled application.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	tg        *telegram.Client
	scheduler *Scheduler
	api       *httpapi.Server
}

// New builds the full dependency graph from configuration: database and
// store, catalog, engine, delivery transport with circuit breaking, tasks,
// scheduler, and HTTP API.
func New(logger *slog.Logger, cfg *config.Config) (*App, error) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store := database.NewStore(db, logger)

	loc, err := time.LoadLocation(cfg.Budget.Timezone)
	if err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("invalid budget timezone %q: %w", cfg.Budget.Timezone, err)
	}

	catalog := funnel.NewCatalog(logger, store, cfg.Engine.CatalogTTL, funnel.CatalogDefaults{
		MinPause:        cfg.Engine.DefaultMinPause,
		MaxPause:        cfg.Engine.DefaultMaxPause,
		DailyDMLimit:    cfg.Budget.DailyDMLimit,
		ChatPostsPerDay: cfg.Budget.ChatPostsPerDay,
	})

	recorder := funnel.NewRecorder(logger, store, cfg.Engine.RecorderTimeout)

	tg, err := telegram.New(logger, cfg.Telegram.Token)
	if err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	sender := delivery.NewCircuitSender(logger, tg, delivery.CircuitConfig{})

	engine := funnel.NewEngine(logger, store, catalog, sender, recorder, cfg.Engine, loc)
	tg.RegisterHandler(engine)

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:   logger,
		Store:    store,
		Engine:   engine,
		Catalog:  catalog,
		Sender:   sender,
		Recorder: recorder,
		Config:   cfg,
		Location: loc,
	})

	scheduler, err := NewScheduler(logger, &cfg.Scheduler, taskMap)
	if err != nil {
		database.CloseDB(db)
		return nil, err
	}

	aggregator := stats.NewAggregator(logger, store)
	api := httpapi.NewServer(logger, cfg.HTTP.Addr, store, engine, catalog, aggregator)

	return &App{
		logger:    logger.With("component", "app"),
		cfg:       cfg,
		db:        db,
		tg:        tg,
		scheduler: scheduler,
		api:       api,
	}, nil
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. Shutdown is graceful: the scheduler drains, the HTTP
// server stops accepting connections, and the database closes last.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting application")

	g, gCtx := errgroup.WithContext(ctx)

	supervisor := delivery.NewSupervisor(a.logger, "telegram_listener")
	g.Go(func() error {
		return supervisor.Run(gCtx, a.tg.Run)
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("error stopping scheduler", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.api.Run(gCtx)
	})

	err := g.Wait()

	database.CloseDB(a.db)

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("application stopped gracefully")
	return nil
}
