package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"usebot/internal/config"
	"usebot/internal/tasks"
)

// Scheduler manages the background tasks using gocron. Tasks may run on a
// cron expression or a fixed interval, whichever their configuration sets.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	taskMap   map[string]tasks.ScheduledTaskFunc
	mu        sync.Mutex
	running   bool
}

func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
		cfg:       cfg,
		taskMap:   taskMap,
	}, nil
}

// Start schedules all enabled tasks and begins execution.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	scheduled := 0
	for taskName, taskCfg := range s.cfg.Tasks {
		if !taskCfg.Enabled {
			s.logger.Info("skipping disabled task", "task_name", taskName)
			continue
		}

		taskFunc, exists := s.taskMap[taskName]
		if !exists {
			s.logger.Warn("task configured but not registered, skipping", "task_name", taskName)
			continue
		}

		def, err := jobDefinition(taskCfg)
		if err != nil {
			s.logger.Error("invalid task schedule, skipping", "task_name", taskName, "error", err)
			continue
		}

		_, err = s.scheduler.NewJob(
			def,
			gocron.NewTask(
				func(ctx context.Context, name string) {
					start := time.Now()
					if taskErr := taskFunc(ctx); taskErr != nil {
						s.logger.Error("scheduled task failed",
							"task_name", name, "error", taskErr, "duration", time.Since(start))
						return
					}
					s.logger.Debug("scheduled task finished",
						"task_name", name, "duration", time.Since(start))
				},
				context.Background(),
				taskName,
			),
			gocron.WithName(taskName),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			s.logger.Error("failed to schedule task", "task_name", taskName, "error", err)
			continue
		}

		s.logger.Info("scheduled task",
			"task_name", taskName, "cron", taskCfg.Schedule, "every", taskCfg.Every)
		scheduled++
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("scheduler started", "tasks_scheduled", scheduled)

	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}

	s.running = false
	s.logger.Info("scheduler stopped")

	return nil
}

// jobDefinition maps a task configuration onto a gocron job definition.
// A cron expression takes precedence over a fixed interval.
func jobDefinition(cfg config.TaskConfig) (gocron.JobDefinition, error) {
	if cfg.Schedule != "" {
		return gocron.CronJob(cfg.Schedule, false), nil
	}
	if cfg.Every > 0 {
		return gocron.DurationJob(cfg.Every), nil
	}

	return nil, fmt.Errorf("task has neither a cron schedule nor an interval")
}
