package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"usebot/internal/database"
)

// Recorder appends events to the durable log under a bounded timeout so a
// slow database never stalls message delivery. Recording failures are
// reported to the caller wrapped in ErrRecorderUnavailable.
type Recorder struct {
	logger  *slog.Logger
	store   database.Store
	timeout time.Duration
}

func NewRecorder(logger *slog.Logger, store database.Store, timeout time.Duration) *Recorder {
	return &Recorder{
		logger:  logger.With("component", "recorder"),
		store:   store,
		timeout: timeout,
	}
}

// Record persists one event. The payload must be JSON encodable.
func (r *Recorder) Record(ctx context.Context, eventType string, payload any) error {
	recordCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.AppendEvent(recordCtx, eventType, payload); err != nil {
		r.logger.Error("failed to record event", "event_type", eventType, "error", err)

		return fmt.Errorf("%w: %w", ErrRecorderUnavailable, err)
	}

	return nil
}
