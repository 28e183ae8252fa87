package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner is a long-running component that blocks until its context is
// cancelled or it fails.
type Runner func(ctx context.Context) error

// Supervisor keeps a Runner alive: when the runner exits without the context
// being cancelled, it is restarted after an exponentially growing delay. The
// delay resets once a run survives past the stability threshold.
type Supervisor struct {
	logger    *slog.Logger
	name      string
	min       time.Duration
	max       time.Duration
	stableFor time.Duration
}

func NewSupervisor(logger *slog.Logger, name string) *Supervisor {
	return &Supervisor{
		logger:    logger.With("component", "supervisor", "target", name),
		name:      name,
		min:       time.Second,
		max:       2 * time.Minute,
		stableFor: 5 * time.Minute,
	}
}

// Run supervises the runner until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context, run Runner) error {
	delay := s.min

	for {
		started := time.Now()
		err := run(ctx)

		if ctx.Err() != nil {
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("runner exited during shutdown", "error", err)
			}
			return ctx.Err()
		}

		if time.Since(started) >= s.stableFor {
			delay = s.min
		}

		s.logger.Error("runner exited unexpectedly, restarting",
			"error", err, "restart_in", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.max {
			delay = s.max
		}
	}
}
