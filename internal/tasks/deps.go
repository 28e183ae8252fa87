// Package tasks implements the scheduled background tasks of the funnel
// engine: the progression tick, group auto-posting, budget counter pruning,
// and database maintenance.
package tasks

import (
	"log/slog"
	"time"

	"usebot/internal/config"
	"usebot/internal/database"
	"usebot/internal/funnel"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Engine   *funnel.Engine
	Catalog  *funnel.Catalog
	Sender   funnel.Sender
	Recorder *funnel.Recorder
	Config   *config.Config
	Location *time.Location
}
