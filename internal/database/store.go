package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// DialogAdvance describes an atomic dialog state mutation. Version must match
// the version read by the caller; a mismatch fails with ErrConflict.
type DialogAdvance struct {
	UserID         int64
	ChatID         int64
	ScenarioID     int64
	NextStep       int
	Version        int64
	Pending        bool
	NextEligibleAt *time.Time
}

// StatsSummary is an aggregate snapshot for reporting.
type StatsSummary struct {
	Dialogs            int            `json:"dialogs"`
	Events             int            `json:"events"`
	Conversions        int            `json:"conversions"`
	ConversionsByStage map[int]int    `json:"conversions_by_stage"`
	UserTypes          map[string]int `json:"user_types"`
}

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetDialogState returns the dialog state for a (user, chat) pair,
	// creating an unassigned state at step 0 if none exists. Creation is
	// idempotent: at most one record ever exists per key.
	GetDialogState(ctx context.Context, userID, chatID int64) (*DialogState, error)

	// AssignScenario assigns a scenario to an unassigned dialog. Assigning
	// the same scenario again is a no-op; assigning a different one fails
	// with ErrAlreadyAssigned.
	AssignScenario(ctx context.Context, userID, chatID, scenarioID int64) error

	// AdvanceDialog atomically moves a dialog to its next step. Fails with
	// ErrConflict when the stored version differs from adv.Version.
	AdvanceDialog(ctx context.Context, adv DialogAdvance) error

	// DeferDialog parks a pending transition for later re-evaluation,
	// typically because the daily budget was exhausted.
	DeferDialog(ctx context.Context, userID, chatID int64, eligibleAt time.Time, version int64) error

	// ListDueDialogs returns assigned dialogs whose next eligible time has
	// elapsed, ordered by eligibility.
	ListDueDialogs(ctx context.Context, now time.Time, limit int) ([]DialogState, error)

	// TryConsumeBudget atomically checks the counter for (user, day, channel)
	// against limit and increments it when under. Returns false without
	// mutating when the budget is exhausted.
	TryConsumeBudget(ctx context.Context, userID int64, day, channel string, limit int) (bool, error)

	// PruneBudgetCounters removes counters older than the given day key.
	PruneBudgetCounters(ctx context.Context, beforeDay string) (int64, error)

	// GetOrCreateUserProfile retrieves a user profile, creating a default one
	// on first contact.
	GetOrCreateUserProfile(ctx context.Context, userID int64, firstName string) (*UserProfile, error)

	// SaveUserProfile updates an existing user profile.
	SaveUserProfile(ctx context.Context, profile *UserProfile) error

	// Catalog reads (configuration-owned, read-only here).
	ListScenarios(ctx context.Context) ([]Scenario, error)
	ListScenarioSteps(ctx context.Context) ([]ScenarioStep, error)
	ListSchedules(ctx context.Context) ([]Schedule, error)
	ListVariants(ctx context.Context) ([]MessageVariant, error)
	GetSettings(ctx context.Context) (map[string]string, error)

	// Auto-post templates for group broadcasting.
	ListAutoPostCandidates(ctx context.Context, reusableBefore time.Time) ([]AutoPost, error)
	TouchAutoPost(ctx context.Context, id int64, usedAt time.Time) error

	// AppendEvent appends an immutable event with a JSON payload.
	AppendEvent(ctx context.Context, eventType string, payload any) error

	// ListSentEvents returns decoded "sent" events in [from, to].
	ListSentEvents(ctx context.Context, from, to time.Time) ([]SentEvent, error)

	// LastSentVariant returns the most recent "sent" event for a user at or
	// before the given instant, or nil when none exists.
	LastSentVariant(ctx context.Context, userID int64, before time.Time) (*SentEvent, error)

	// InsertConversion appends an immutable conversion record.
	InsertConversion(ctx context.Context, c *Conversion) error

	// ListConversions returns conversions in [from, to].
	ListConversions(ctx context.Context, from, to time.Time) ([]Conversion, error)

	// Stats returns aggregate counts for reporting.
	Stats(ctx context.Context) (*StatsSummary, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetDialogState(ctx context.Context, userID, chatID int64) (*DialogState, error) {
	if userID == 0 || chatID == 0 {
		return nil, fmt.Errorf("user_id and chat_id must be non-zero")
	}

	now := time.Now().UTC()

	// INSERT OR IGNORE keeps creation idempotent under concurrent first contact.
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO dialog_states (user_id, chat_id, scenario_id, step_order, version, pending, updated_at)
        VALUES (?, ?, NULL, 0, 0, 0, ?);
    `, userID, chatID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating dialog state", "user_id", userID, "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to create dialog state (user %d, chat %d): %w", userID, chatID, err)
	}

	var state DialogState
	err = s.db.GetContext(ctx, &state, `
        SELECT user_id, chat_id, scenario_id, step_order, version, pending, next_eligible_at, updated_at
        FROM dialog_states WHERE user_id = ? AND chat_id = ?;
    `, userID, chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting dialog state", "user_id", userID, "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get dialog state (user %d, chat %d): %w", userID, chatID, err)
	}

	return &state, nil
}

func (s *sqlxStore) AssignScenario(ctx context.Context, userID, chatID, scenarioID int64) error {
	state, err := s.GetDialogState(ctx, userID, chatID)
	if err != nil {
		return err
	}

	if state.ScenarioID.Valid {
		if state.ScenarioID.Int64 == scenarioID {
			return nil
		}
		return fmt.Errorf("dialog (user %d, chat %d) is on scenario %d: %w",
			userID, chatID, state.ScenarioID.Int64, ErrAlreadyAssigned)
	}

	res, err := s.db.ExecContext(ctx, `
        UPDATE dialog_states
        SET scenario_id = ?, step_order = 0, version = version + 1, updated_at = ?
        WHERE user_id = ? AND chat_id = ? AND scenario_id IS NULL;
    `, scenarioID, time.Now().UTC(), userID, chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error assigning scenario", "user_id", userID, "chat_id", chatID, "scenario_id", scenarioID, "error", err)
		return fmt.Errorf("failed to assign scenario %d (user %d, chat %d): %w", scenarioID, userID, chatID, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		// Lost a race against a concurrent assignment.
		return fmt.Errorf("dialog (user %d, chat %d) assigned concurrently: %w", userID, chatID, ErrAlreadyAssigned)
	}

	s.logger.DebugContext(ctx, "Scenario assigned", "user_id", userID, "chat_id", chatID, "scenario_id", scenarioID)
	return nil
}

func (s *sqlxStore) AdvanceDialog(ctx context.Context, adv DialogAdvance) error {
	if adv.NextStep < 0 {
		return fmt.Errorf("next step must not be negative, got %d", adv.NextStep)
	}

	var next sql.NullTime
	if adv.NextEligibleAt != nil {
		next = sql.NullTime{Time: adv.NextEligibleAt.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
        UPDATE dialog_states
        SET scenario_id = ?, step_order = ?, version = version + 1,
            pending = ?, next_eligible_at = ?, updated_at = ?
        WHERE user_id = ? AND chat_id = ? AND version = ?;
    `, adv.ScenarioID, adv.NextStep, adv.Pending, next, time.Now().UTC(),
		adv.UserID, adv.ChatID, adv.Version)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error advancing dialog", "user_id", adv.UserID, "chat_id", adv.ChatID, "error", err)
		return fmt.Errorf("failed to advance dialog (user %d, chat %d): %w", adv.UserID, adv.ChatID, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("dialog (user %d, chat %d) at version %d: %w",
			adv.UserID, adv.ChatID, adv.Version, ErrConflict)
	}

	s.logger.DebugContext(ctx, "Dialog advanced",
		"user_id", adv.UserID, "chat_id", adv.ChatID, "step", adv.NextStep, "pending", adv.Pending)
	return nil
}

func (s *sqlxStore) DeferDialog(ctx context.Context, userID, chatID int64, eligibleAt time.Time, version int64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE dialog_states
        SET pending = 1, next_eligible_at = ?, version = version + 1, updated_at = ?
        WHERE user_id = ? AND chat_id = ? AND version = ?;
    `, eligibleAt.UTC(), time.Now().UTC(), userID, chatID, version)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deferring dialog", "user_id", userID, "chat_id", chatID, "error", err)
		return fmt.Errorf("failed to defer dialog (user %d, chat %d): %w", userID, chatID, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("dialog (user %d, chat %d) at version %d: %w", userID, chatID, version, ErrConflict)
	}
	return nil
}

func (s *sqlxStore) ListDueDialogs(ctx context.Context, now time.Time, limit int) ([]DialogState, error) {
	if limit <= 0 {
		limit = 100
	}

	var states []DialogState
	err := s.db.SelectContext(ctx, &states, `
        SELECT user_id, chat_id, scenario_id, step_order, version, pending, next_eligible_at, updated_at
        FROM dialog_states
        WHERE scenario_id IS NOT NULL
          AND next_eligible_at IS NOT NULL
          AND next_eligible_at <= ?
        ORDER BY next_eligible_at ASC
        LIMIT ?;
    `, now.UTC(), limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing due dialogs", "error", err)
		return nil, fmt.Errorf("failed to list due dialogs: %w", err)
	}

	return states, nil
}

func (s *sqlxStore) TryConsumeBudget(ctx context.Context, userID int64, day, channel string, limit int) (bool, error) {
	if day == "" || channel == "" {
		return false, fmt.Errorf("day and channel must be non-empty")
	}
	if limit <= 0 {
		return false, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	_, err = tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO budget_counters (user_id, day, channel, count) VALUES (?, ?, ?, 0);
    `, userID, day, channel)
	if err != nil {
		return false, fmt.Errorf("failed to initialize budget counter: %w", err)
	}

	var count int
	err = tx.GetContext(ctx, &count, `
        SELECT count FROM budget_counters WHERE user_id = ? AND day = ? AND channel = ?;
    `, userID, day, channel)
	if err != nil {
		return false, fmt.Errorf("failed to read budget counter: %w", err)
	}

	if count >= limit {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE budget_counters SET count = count + 1 WHERE user_id = ? AND day = ? AND channel = ?;
    `, userID, day, channel)
	if err != nil {
		return false, fmt.Errorf("failed to increment budget counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit budget counter: %w", err)
	}
	tx = nil

	return true, nil
}

func (s *sqlxStore) PruneBudgetCounters(ctx context.Context, beforeDay string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM budget_counters WHERE day < ?;`, beforeDay)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning budget counters", "error", err)
		return 0, fmt.Errorf("failed to prune budget counters: %w", err)
	}

	count, _ := res.RowsAffected()
	if count > 0 {
		s.logger.InfoContext(ctx, "Pruned budget counters", "count", count, "before_day", beforeDay)
	}
	return count, nil
}

func (s *sqlxStore) GetOrCreateUserProfile(ctx context.Context, userID int64, firstName string) (*UserProfile, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO user_profiles (user_id, first_name, user_type, created_at, updated_at)
        VALUES (?, ?, 'default', ?, ?);
    `, userID, firstName, now, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating user profile", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to create user profile for user %d: %w", userID, err)
	}

	var profile UserProfile
	err = s.db.GetContext(ctx, &profile, `
        SELECT user_id, first_name, user_type, interaction_count, sentiment, conversion_stage, created_at, updated_at
        FROM user_profiles WHERE user_id = ?;
    `, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting user profile", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user profile for user %d: %w", userID, err)
	}

	return &profile, nil
}

func (s *sqlxStore) SaveUserProfile(ctx context.Context, profile *UserProfile) error {
	if profile == nil {
		return fmt.Errorf("cannot save nil user profile")
	}

	profile.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
        UPDATE user_profiles SET
            first_name = :first_name,
            user_type = :user_type,
            interaction_count = :interaction_count,
            sentiment = :sentiment,
            conversion_stage = :conversion_stage,
            updated_at = :updated_at
        WHERE user_id = :user_id;
    `, profile)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving user profile", "user_id", profile.UserID, "error", err)
		return fmt.Errorf("failed to save user profile for user %d: %w", profile.UserID, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when saving profile",
			"user_id", profile.UserID, "affected", affected)
	}
	return nil
}

func (s *sqlxStore) ListScenarios(ctx context.Context) ([]Scenario, error) {
	var scenarios []Scenario
	err := s.db.SelectContext(ctx, &scenarios, `
        SELECT id, name, is_active, created_at, updated_at
        FROM scenarios ORDER BY created_at DESC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	return scenarios, nil
}

func (s *sqlxStore) ListScenarioSteps(ctx context.Context) ([]ScenarioStep, error) {
	var steps []ScenarioStep
	err := s.db.SelectContext(ctx, &steps, `
        SELECT id, scenario_id, step_order, step_trigger, message_template
        FROM scenario_steps ORDER BY scenario_id, step_order ASC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenario steps: %w", err)
	}
	return steps, nil
}

func (s *sqlxStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	err := s.db.SelectContext(ctx, &schedules, `
        SELECT id, scenario_id, start_time, end_time, min_pause_sec, max_pause_sec
        FROM schedules ORDER BY scenario_id, id ASC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (s *sqlxStore) ListVariants(ctx context.Context) ([]MessageVariant, error) {
	var variants []MessageVariant
	err := s.db.SelectContext(ctx, &variants, `
        SELECT id, stage, user_type, name, template, weight
        FROM message_variants ORDER BY stage, user_type, id ASC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to list message variants: %w", err)
	}
	return variants, nil
}

func (s *sqlxStore) GetSettings(ctx context.Context) (map[string]string, error) {
	var rows []Setting
	err := s.db.SelectContext(ctx, &rows, `SELECT key, value, updated_at FROM settings;`)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	settings := make(map[string]string, len(rows))
	for _, row := range rows {
		settings[row.Key] = row.Value
	}
	return settings, nil
}

func (s *sqlxStore) ListAutoPostCandidates(ctx context.Context, reusableBefore time.Time) ([]AutoPost, error) {
	var posts []AutoPost
	err := s.db.SelectContext(ctx, &posts, `
        SELECT id, template, weight, last_used
        FROM auto_posts
        WHERE last_used IS NULL OR last_used < ?
        ORDER BY id ASC;
    `, reusableBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-post candidates: %w", err)
	}
	return posts, nil
}

func (s *sqlxStore) TouchAutoPost(ctx context.Context, id int64, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE auto_posts SET last_used = ? WHERE id = ?;`, usedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch auto post %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) AppendEvent(ctx context.Context, eventType string, payload any) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO events (event_type, payload, created_at) VALUES (?, ?, ?);
    `, eventType, string(body), time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error appending event", "event_type", eventType, "error", err)
		return fmt.Errorf("failed to append %q event: %w", eventType, err)
	}

	return nil
}

func (s *sqlxStore) ListSentEvents(ctx context.Context, from, to time.Time) ([]SentEvent, error) {
	var rows []Event
	err := s.db.SelectContext(ctx, &rows, `
        SELECT id, event_type, payload, created_at
        FROM events
        WHERE event_type = 'sent' AND created_at >= ? AND created_at <= ?
        ORDER BY created_at ASC;
    `, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list sent events: %w", err)
	}

	sent := make([]SentEvent, 0, len(rows))
	for _, row := range rows {
		var ev SentEvent
		if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
			s.logger.WarnContext(ctx, "Skipping malformed sent event payload", "event_id", row.ID, "error", err)
			continue
		}
		ev.At = row.CreatedAt
		sent = append(sent, ev)
	}
	return sent, nil
}

func (s *sqlxStore) LastSentVariant(ctx context.Context, userID int64, before time.Time) (*SentEvent, error) {
	var row Event
	err := s.db.GetContext(ctx, &row, `
        SELECT id, event_type, payload, created_at
        FROM events
        WHERE event_type = 'sent'
          AND created_at <= ?
          AND json_extract(payload, '$.user_id') = ?
        ORDER BY created_at DESC, id DESC
        LIMIT 1;
    `, before.UTC(), userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find last sent event for user %d: %w", userID, err)
	}

	var ev SentEvent
	if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode sent event payload: %w", err)
	}
	ev.At = row.CreatedAt
	return &ev, nil
}

func (s *sqlxStore) InsertConversion(ctx context.Context, c *Conversion) error {
	if c == nil {
		return fmt.Errorf("cannot insert nil conversion")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO conversions (user_id, chat_id, conversion_type, stage, variant_used, created_at)
        VALUES (?, ?, ?, ?, ?, ?);
    `, c.UserID, c.ChatID, c.ConversionType, c.Stage, c.VariantUsed, c.CreatedAt.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting conversion", "user_id", c.UserID, "type", c.ConversionType, "error", err)
		return fmt.Errorf("failed to insert conversion for user %d: %w", c.UserID, err)
	}

	s.logger.DebugContext(ctx, "Conversion recorded",
		"user_id", c.UserID, "type", c.ConversionType, "stage", c.Stage)
	return nil
}

func (s *sqlxStore) ListConversions(ctx context.Context, from, to time.Time) ([]Conversion, error) {
	var conversions []Conversion
	err := s.db.SelectContext(ctx, &conversions, `
        SELECT id, user_id, chat_id, conversion_type, stage, variant_used, created_at
        FROM conversions
        WHERE created_at >= ? AND created_at <= ?
        ORDER BY created_at ASC;
    `, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	return conversions, nil
}

func (s *sqlxStore) Stats(ctx context.Context) (*StatsSummary, error) {
	summary := &StatsSummary{
		ConversionsByStage: make(map[int]int),
		UserTypes:          make(map[string]int),
	}

	if err := s.db.GetContext(ctx, &summary.Dialogs, `SELECT COUNT(*) FROM dialog_states;`); err != nil {
		return nil, fmt.Errorf("failed to count dialogs: %w", err)
	}
	if err := s.db.GetContext(ctx, &summary.Events, `SELECT COUNT(*) FROM events;`); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	if err := s.db.GetContext(ctx, &summary.Conversions, `SELECT COUNT(*) FROM conversions;`); err != nil {
		return nil, fmt.Errorf("failed to count conversions: %w", err)
	}

	type stageCount struct {
		Stage int `db:"stage"`
		Count int `db:"count"`
	}
	var stages []stageCount
	err := s.db.SelectContext(ctx, &stages, `
        SELECT stage, COUNT(*) AS count FROM conversions GROUP BY stage ORDER BY stage;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversions by stage: %w", err)
	}
	for _, sc := range stages {
		summary.ConversionsByStage[sc.Stage] = sc.Count
	}

	type typeCount struct {
		UserType string `db:"user_type"`
		Count    int    `db:"count"`
	}
	var types []typeCount
	err = s.db.SelectContext(ctx, &types, `
        SELECT user_type, COUNT(*) AS count FROM user_profiles GROUP BY user_type ORDER BY count DESC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to count user types: %w", err)
	}
	for _, tc := range types {
		summary.UserTypes[tc.UserType] = tc.Count
	}

	return summary, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
