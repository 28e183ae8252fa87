package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"usebot/internal/config"
	"usebot/internal/database"
)

const advanceRetries = 3

// Engine drives funnel progression. It reacts to inbound signals, fires
// timed transitions on ticks, enforces pacing windows and daily budgets,
// selects weighted message variants, and records every action in the event
// log. All mutations of one dialog are serialized through a per-dialog lock.
type Engine struct {
	logger   *slog.Logger
	store    database.Store
	catalog  *Catalog
	sender   Sender
	recorder *Recorder
	cfg      config.EngineConfig
	loc      *time.Location
	locks    *keyedMutex
	now      func() time.Time
	rng      *rand.Rand
}

// Option adjusts engine construction; used by tests to inject a fixed clock
// or a deterministic random source.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

func NewEngine(
	logger *slog.Logger,
	store database.Store,
	catalog *Catalog,
	sender Sender,
	recorder *Recorder,
	engineCfg config.EngineConfig,
	loc *time.Location,
	opts ...Option,
) *Engine {
	e := &Engine{
		logger:   logger.With("component", "engine"),
		store:    store,
		catalog:  catalog,
		sender:   sender,
		recorder: recorder,
		cfg:      engineCfg,
		loc:      loc,
		locks:    newKeyedMutex(),
		now:      time.Now,
		rng:      rand.New(&lockedSource{src: rand.NewSource(time.Now().UnixNano())}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// OnInboundSignal handles one user reply: it classifies the user, records
// the reply, assigns the active scenario on first contact, and advances the
// dialog when the reply matches a pending trigger step.
func (e *Engine) OnInboundSignal(ctx context.Context, sig InboundSignal) error {
	unlock := e.locks.lock(dialogKey{userID: sig.UserID, chatID: sig.ChatID})
	defer unlock()

	snap, err := e.catalog.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	profile, err := e.store.GetOrCreateUserProfile(ctx, sig.UserID, sig.FirstName)
	if err != nil {
		return fmt.Errorf("failed to load user profile: %w", err)
	}

	if detected := DetectUserType(sig.Text); detected != DefaultUserType {
		profile.UserType = detected
		profile.Sentiment = detected
	}
	if sig.FirstName != "" {
		profile.FirstName = sig.FirstName
	}
	if err := e.store.SaveUserProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to save user profile: %w", err)
	}

	e.record(ctx, "received", map[string]any{
		"user_id":   sig.UserID,
		"chat_id":   sig.ChatID,
		"text_len":  len(sig.Text),
		"user_type": profile.UserType,
	})

	state, err := e.store.GetDialogState(ctx, sig.UserID, sig.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load dialog state: %w", err)
	}

	if !state.ScenarioID.Valid {
		return e.assignScenario(ctx, snap, state, sig)
	}

	sc, ok := snap.Scenarios[state.ScenarioID.Int64]
	if !ok || sc.Completed(state.StepOrder) {
		return nil
	}
	if !sc.Active {
		// Deactivated scenarios park their dialogs until reactivation.
		return nil
	}

	matched := matchTrigger(sc, state.StepOrder, sig.Text)
	if matched < 0 {
		return nil
	}

	// Trigger transitions fire immediately; the pacing window only gates
	// timed steps.
	return e.fireTransition(ctx, snap, state, sc, profile, matched, sig.At)
}

// assignScenario binds a first-contact dialog to the active scenario and
// either fires or schedules its opening step.
func (e *Engine) assignScenario(ctx context.Context, snap *Snapshot, state *database.DialogState, sig InboundSignal) error {
	if snap.Active == nil {
		e.logger.Warn("no active scenario for first contact", "user_id", sig.UserID, "chat_id", sig.ChatID)
		return nil
	}

	err := e.store.AssignScenario(ctx, sig.UserID, sig.ChatID, snap.Active.ID)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyAssigned) || errors.Is(err, database.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to assign scenario: %w", err)
	}

	state, err = e.store.GetDialogState(ctx, sig.UserID, sig.ChatID)
	if err != nil {
		return fmt.Errorf("failed to reload dialog state: %w", err)
	}

	opening := snap.Active.Steps[0]
	if opening.Trigger == "" {
		eligible := NextEligibleTime(snap.ScheduleFor(snap.Active.ID), sig.At.In(e.loc), e.rng)
		adv := database.DialogAdvance{
			UserID:         state.UserID,
			ChatID:         state.ChatID,
			ScenarioID:     snap.Active.ID,
			NextStep:       0,
			Version:        state.Version,
			NextEligibleAt: &eligible,
		}
		if err := e.store.AdvanceDialog(ctx, adv); err != nil {
			return fmt.Errorf("failed to schedule opening step: %w", err)
		}
		return nil
	}

	if strings.Contains(strings.ToLower(sig.Text), opening.Trigger) {
		profile, err := e.store.GetOrCreateUserProfile(ctx, sig.UserID, sig.FirstName)
		if err != nil {
			return fmt.Errorf("failed to load user profile: %w", err)
		}
		return e.fireTransition(ctx, snap, state, snap.Active, profile, 0, sig.At)
	}

	return nil
}

// OnTick processes all dialogs whose eligibility time has arrived. Dialogs
// are handled concurrently up to the worker limit; a failure on one dialog is
// logged and does not abort the batch.
func (e *Engine) OnTick(ctx context.Context) error {
	snap, err := e.catalog.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	now := e.now()
	due, err := e.store.ListDueDialogs(ctx, now, e.cfg.TickBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list due dialogs: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	e.logger.Debug("processing due dialogs", "count", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)

	for _, d := range due {
		d := d
		g.Go(func() error {
			if err := e.processDue(gctx, snap, d, now); err != nil {
				e.logger.Error("failed to process dialog",
					"user_id", d.UserID, "chat_id", d.ChatID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (e *Engine) processDue(ctx context.Context, snap *Snapshot, d database.DialogState, now time.Time) error {
	unlock := e.locks.lock(dialogKey{userID: d.UserID, chatID: d.ChatID})
	defer unlock()

	// Re-read under the lock; the listed row may be stale by now.
	state, err := e.store.GetDialogState(ctx, d.UserID, d.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load dialog state: %w", err)
	}
	if !state.ScenarioID.Valid || !state.NextEligibleAt.Valid || state.NextEligibleAt.Time.After(now) {
		return nil
	}

	sc, ok := snap.Scenarios[state.ScenarioID.Int64]
	if !ok {
		e.logger.Warn("dialog references unknown scenario",
			"user_id", state.UserID, "scenario_id", state.ScenarioID.Int64)
		return nil
	}
	if !sc.Active || sc.Completed(state.StepOrder) {
		return nil
	}

	step := sc.Steps[state.StepOrder]
	if step.Trigger != "" && !state.Pending {
		// Triggered step waiting on an inbound match; nothing to do.
		return nil
	}

	// The time-of-day window binds every tick-driven send, including
	// re-attempts of budget-deferred transitions whose eligibility instant
	// has drifted past a window edge. Windows are evaluated in the
	// configured budget zone.
	sched := snap.ScheduleFor(sc.ID)
	local := now.In(e.loc)
	if !sched.Contains(local) {
		return e.store.DeferDialog(ctx, state.UserID, state.ChatID, sched.nextOpening(local), state.Version)
	}

	profile, err := e.store.GetOrCreateUserProfile(ctx, state.UserID, "")
	if err != nil {
		return fmt.Errorf("failed to load user profile: %w", err)
	}

	return e.fireTransition(ctx, snap, state, sc, profile, state.StepOrder, now)
}

// fireTransition executes one step: it selects a variant, consumes budget,
// delivers the message with retries, records the send, detects call-to-action
// conversions, and advances the dialog to the next step.
func (e *Engine) fireTransition(
	ctx context.Context,
	snap *Snapshot,
	state *database.DialogState,
	sc *Scenario,
	profile *database.UserProfile,
	stepIndex int,
	now time.Time,
) error {
	step := sc.Steps[stepIndex]

	// Variant choice happens before the budget check so a missing variant
	// never burns an outreach slot.
	template := step.Template
	variantName := ""
	variant, err := SelectVariant(snap.Variants, stepIndex, profile.UserType, e.rng)
	switch {
	case err == nil:
		template = variant.Template
		variantName = variant.Name
	case errors.Is(err, ErrNoVariant):
		// A reachable stage without variants is a configuration problem the
		// operator needs to see, even when the step template papers over it.
		e.logger.Error("no variant configured for stage",
			"scenario_id", sc.ID, "step", stepIndex, "user_type", profile.UserType)
		if template == "" {
			return ErrNoVariant
		}
	default:
		return fmt.Errorf("failed to select variant: %w", err)
	}

	day := now.In(e.loc).Format("2006-01-02")
	allowed, err := e.store.TryConsumeBudget(ctx, state.UserID, day, database.ChannelDirect, snap.Settings.DailyDMLimit)
	if err != nil {
		return fmt.Errorf("failed to consume budget: %w", err)
	}
	if !allowed {
		e.logger.Info("daily budget exhausted, deferring dialog",
			"user_id", state.UserID, "chat_id", state.ChatID, "day", day)
		// Marked pending so the next tick re-evaluates once the day rolls.
		if err := e.store.DeferDialog(ctx, state.UserID, state.ChatID, now, state.Version); err != nil {
			return fmt.Errorf("failed to defer dialog: %w", err)
		}
		return nil
	}

	text := RenderTemplate(template, profile.FirstName, snap.Settings.CTAURL)

	if err := e.sendWithRetry(ctx, state.ChatID, text); err != nil {
		// The budget slot is spent; push the dialog forward in time rather
		// than hammering a broken transport.
		eligible := now.Add(e.cfg.MaxBackoff)
		if deferErr := e.store.DeferDialog(ctx, state.UserID, state.ChatID, eligible, state.Version); deferErr != nil {
			e.logger.Error("failed to defer dialog after send failure",
				"user_id", state.UserID, "chat_id", state.ChatID, "error", deferErr)
		}
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	sent := database.SentEvent{
		IntentID: uuid.NewString(),
		UserID:   state.UserID,
		ChatID:   state.ChatID,
		Variant:  variantName,
		UserType: profile.UserType,
		Stage:    stepIndex,
	}
	if err := e.recorder.Record(ctx, "sent", sent); err != nil {
		// Delivery already happened; losing the record is reported but must
		// not block progression.
		e.logger.Error("sent event not recorded", "intent_id", sent.IntentID, "error", err)
	}

	if stepIndex >= e.cfg.CTAStage && snap.Settings.CTAURL != "" && strings.Contains(text, snap.Settings.CTAURL) {
		e.markCTASent(ctx, state, stepIndex, variantName)
	}

	next := stepIndex + 1
	adv := database.DialogAdvance{
		UserID:     state.UserID,
		ChatID:     state.ChatID,
		ScenarioID: sc.ID,
		NextStep:   next,
		Version:    state.Version,
	}
	if !sc.Completed(next) && sc.Steps[next].Trigger == "" {
		eligible := NextEligibleTime(snap.ScheduleFor(sc.ID), now.In(e.loc), e.rng)
		adv.NextEligibleAt = &eligible
	}

	if err := e.advanceWithRetry(ctx, adv, next); err != nil {
		return err
	}

	if sc.Completed(next) {
		e.record(ctx, "completed", map[string]any{
			"user_id":     state.UserID,
			"chat_id":     state.ChatID,
			"scenario_id": sc.ID,
		})
	}

	profile.InteractionCount++
	if err := e.store.SaveUserProfile(ctx, profile); err != nil {
		e.logger.Error("failed to update user profile", "user_id", profile.UserID, "error", err)
	}

	return nil
}

// advanceWithRetry applies an optimistic advance, refreshing the version on
// conflict. A conflict where the dialog already moved to or past the target
// step counts as success.
func (e *Engine) advanceWithRetry(ctx context.Context, adv database.DialogAdvance, next int) error {
	for attempt := 0; ; attempt++ {
		err := e.store.AdvanceDialog(ctx, adv)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrConflict) || attempt >= advanceRetries {
			return fmt.Errorf("failed to advance dialog: %w", err)
		}

		state, readErr := e.store.GetDialogState(ctx, adv.UserID, adv.ChatID)
		if readErr != nil {
			return fmt.Errorf("failed to re-read dialog after conflict: %w", readErr)
		}
		if state.StepOrder >= next {
			return nil
		}
		adv.Version = state.Version
	}
}

func (e *Engine) markCTASent(ctx context.Context, state *database.DialogState, stage int, variantName string) {
	conv := &database.Conversion{
		UserID:         state.UserID,
		ChatID:         state.ChatID,
		ConversionType: "cta_sent",
		Stage:          stage,
	}
	if variantName != "" {
		conv.VariantUsed.String = variantName
		conv.VariantUsed.Valid = true
	}

	if err := e.store.InsertConversion(ctx, conv); err != nil {
		e.logger.Error("failed to record cta conversion", "user_id", state.UserID, "error", err)
		return
	}

	e.record(ctx, "conversion", map[string]any{
		"user_id":         state.UserID,
		"chat_id":         state.ChatID,
		"conversion_type": "cta_sent",
		"stage":           stage,
	})
}

// OnConversion ingests an externally detected conversion, attributing it to
// the most recent message sent to the user before the conversion instant.
func (e *Engine) OnConversion(ctx context.Context, sig ConversionSignal) error {
	unlock := e.locks.lock(dialogKey{userID: sig.UserID, chatID: sig.ChatID})
	defer unlock()

	at := sig.At
	if at.IsZero() {
		at = e.now()
	}

	conv := &database.Conversion{
		UserID:         sig.UserID,
		ChatID:         sig.ChatID,
		ConversionType: sig.ConversionType,
		Stage:          sig.Stage,
	}

	last, err := e.store.LastSentVariant(ctx, sig.UserID, at)
	if err != nil {
		e.logger.Error("failed to look up last sent variant", "user_id", sig.UserID, "error", err)
	} else if last != nil && last.Variant != "" {
		conv.VariantUsed.String = last.Variant
		conv.VariantUsed.Valid = true
	}

	if err := e.store.InsertConversion(ctx, conv); err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}

	e.record(ctx, "conversion", map[string]any{
		"user_id":         sig.UserID,
		"chat_id":         sig.ChatID,
		"conversion_type": sig.ConversionType,
		"stage":           sig.Stage,
	})

	profile, err := e.store.GetOrCreateUserProfile(ctx, sig.UserID, "")
	if err != nil {
		e.logger.Error("failed to load profile for conversion", "user_id", sig.UserID, "error", err)
		return nil
	}
	if sig.Stage > profile.ConversionStage {
		profile.ConversionStage = sig.Stage
		if err := e.store.SaveUserProfile(ctx, profile); err != nil {
			e.logger.Error("failed to update conversion stage", "user_id", sig.UserID, "error", err)
		}
	}

	return nil
}

// GetDialogState exposes the authoritative dialog row for the ops API.
func (e *Engine) GetDialogState(ctx context.Context, userID, chatID int64) (*database.DialogState, error) {
	return e.store.GetDialogState(ctx, userID, chatID)
}

func (e *Engine) sendWithRetry(ctx context.Context, chatID int64, text string) error {
	backoff := e.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxSendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		err := e.sender.Send(sendCtx, chatID, text)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == e.cfg.MaxSendAttempts {
			break
		}

		jitter := time.Duration(e.rng.Int63n(int64(backoff)/2 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}

		backoff *= 2
		if backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}

	return fmt.Errorf("send failed after %d attempts: %w", e.cfg.MaxSendAttempts, lastErr)
}

func (e *Engine) record(ctx context.Context, eventType string, payload any) {
	if err := e.recorder.Record(ctx, eventType, payload); err != nil {
		e.logger.Error("event not recorded", "event_type", eventType, "error", err)
	}
}

// matchTrigger scans forward from the current step for the first step whose
// trigger appears in the message, allowing a reply to skip stages when the
// user jumps ahead. Returns -1 when nothing matches.
func matchTrigger(sc *Scenario, from int, text string) int {
	lowered := strings.ToLower(text)
	for i := from; i < len(sc.Steps); i++ {
		if sc.Steps[i].Trigger == "" {
			continue
		}
		if strings.Contains(lowered, sc.Steps[i].Trigger) {
			return i
		}
	}
	return -1
}

// lockedSource makes a rand.Source safe for use from concurrent tick workers.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}
