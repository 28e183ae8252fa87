package database

import (
	"database/sql"
	"time"
)

// Scenario is a configured funnel: an ordered list of steps a dialog is
// guided through. Scenarios are owned by configuration and only read by
// the engine.
type Scenario struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ScenarioStep is one step of a scenario. StepOrder values form a dense
// zero-based sequence within a scenario. An empty Trigger marks a timed step
// that fires on schedule instead of on an inbound match.
type ScenarioStep struct {
	ID              int64  `db:"id"`
	ScenarioID      int64  `db:"scenario_id"`
	StepOrder       int    `db:"step_order"`
	Trigger         string `db:"step_trigger"`
	MessageTemplate string `db:"message_template"`
}

// MessageVariant is one candidate message rendering for a funnel stage,
// optionally restricted to a user type and carrying a positive selection weight.
type MessageVariant struct {
	ID       int64  `db:"id"`
	Stage    int    `db:"stage"`
	UserType string `db:"user_type"`
	Name     string `db:"name"`
	Template string `db:"template"`
	Weight   int    `db:"weight"`
}

// Schedule bounds when a scenario may act: an allowed time-of-day window
// (which may wrap midnight) and a randomized pause range in seconds.
type Schedule struct {
	ID          int64  `db:"id"`
	ScenarioID  int64  `db:"scenario_id"`
	StartTime   string `db:"start_time"`
	EndTime     string `db:"end_time"`
	MinPauseSec int    `db:"min_pause_sec"`
	MaxPauseSec int    `db:"max_pause_sec"`
}

// UserProfile accumulates what the engine has observed about one end user:
// their classification, interaction count, and last sentiment.
type UserProfile struct {
	UserID           int64     `db:"user_id"`
	FirstName        string    `db:"first_name"`
	UserType         string    `db:"user_type"`
	InteractionCount int       `db:"interaction_count"`
	Sentiment        string    `db:"sentiment"`
	ConversionStage  int       `db:"conversion_stage"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// DialogState is the authoritative funnel position of one (user, chat) pair.
// Version is an optimistic concurrency token bumped on every mutation.
// A NULL ScenarioID means the dialog is unassigned; StepOrder equal to the
// scenario's step count means the dialog completed the funnel.
type DialogState struct {
	UserID         int64         `db:"user_id"`
	ChatID         int64         `db:"chat_id"`
	ScenarioID     sql.NullInt64 `db:"scenario_id"`
	StepOrder      int           `db:"step_order"`
	Version        int64         `db:"version"`
	Pending        bool          `db:"pending"`
	NextEligibleAt sql.NullTime  `db:"next_eligible_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// Event is an immutable append-only fact. Payload holds a JSON document;
// "sent" events carry the variant, user type, and stage that produced them.
type Event struct {
	ID        int64     `db:"id"`
	EventType string    `db:"event_type"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

// SentEvent is the decoded payload of a "sent" event, used for attribution.
type SentEvent struct {
	IntentID string    `json:"intent_id"`
	UserID   int64     `json:"user_id"`
	ChatID   int64     `json:"chat_id"`
	Variant  string    `json:"variant"`
	UserType string    `json:"user_type"`
	Stage    int       `json:"stage"`
	At       time.Time `json:"-"`
}

// Conversion is an immutable record of a detected conversion, with the
// variant attributed at ingest time when one could be determined.
type Conversion struct {
	ID             int64          `db:"id"`
	UserID         int64          `db:"user_id"`
	ChatID         int64          `db:"chat_id"`
	ConversionType string         `db:"conversion_type"`
	Stage          int            `db:"stage"`
	VariantUsed    sql.NullString `db:"variant_used"`
	CreatedAt      time.Time      `db:"created_at"`
}

// BudgetCounter counts outreach actions for one (user, day, channel) key.
// Day keys are YYYY-MM-DD in the configured budget time zone.
type BudgetCounter struct {
	UserID  int64  `db:"user_id"`
	Day     string `db:"day"`
	Channel string `db:"channel"`
	Count   int    `db:"count"`
}

// Setting is one key/value runtime setting editable without a restart.
type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// AutoPost is a weighted broadcast template for group auto-posting.
// LastUsed throttles reuse of the same template.
type AutoPost struct {
	ID       int64        `db:"id"`
	Template string       `db:"template"`
	Weight   int          `db:"weight"`
	LastUsed sql.NullTime `db:"last_used"`
}

// Budget channel kinds.
const (
	ChannelDirect = "direct"
	ChannelGroup  = "group"
)
