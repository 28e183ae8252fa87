// Package delivery provides transport-level resilience around message
// senders: a circuit breaker that sheds load when the transport is failing
// and a supervisor that restarts a crashed listener with backoff.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"usebot/internal/funnel"
)

// ErrCircuitOpen indicates the breaker is rejecting sends.
var ErrCircuitOpen = gobreaker.ErrOpenState

// CircuitSender wraps a sender with a circuit breaker so a failing transport
// trips fast instead of letting every dialog burn its full retry budget.
type CircuitSender struct {
	logger *slog.Logger
	next   funnel.Sender
	cb     *gobreaker.CircuitBreaker
}

// CircuitConfig tunes the breaker. Zero values fall back to defaults.
type CircuitConfig struct {
	MaxFailures   uint32
	OpenDuration  time.Duration
	HalfOpenCalls uint32
}

func NewCircuitSender(logger *slog.Logger, next funnel.Sender, cfg CircuitConfig) *CircuitSender {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenDuration == 0 {
		cfg.OpenDuration = 60 * time.Second
	}
	if cfg.HalfOpenCalls == 0 {
		cfg.HalfOpenCalls = 1
	}

	log := logger.With("component", "circuit_sender")

	settings := gobreaker.Settings{
		Name:        "telegram-send",
		MaxRequests: cfg.HalfOpenCalls,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &CircuitSender{
		logger: log,
		next:   next,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *CircuitSender) Send(ctx context.Context, chatID any, text string) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.next.Send(ctx, chatID, text)
	})
	if err != nil {
		return fmt.Errorf("send rejected or failed: %w", err)
	}

	return nil
}
