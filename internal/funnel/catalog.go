package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"usebot/internal/database"
)

// CatalogDefaults supplies fallback values used when the settings table or a
// scenario's schedule omits a knob.
type CatalogDefaults struct {
	MinPause        time.Duration
	MaxPause        time.Duration
	DailyDMLimit    int
	ChatPostsPerDay int
}

// Snapshot is an immutable view of the funnel configuration: scenarios with
// their steps, per-scenario schedules, message variants, and settings. A
// snapshot is safe for concurrent use.
type Snapshot struct {
	Scenarios map[int64]*Scenario
	Active    *Scenario
	Variants  []Variant
	Settings  Settings

	schedules       map[int64]Schedule
	defaultSchedule Schedule
}

// ScheduleFor returns the scenario's schedule, or an always-open schedule
// with the default pause range when none is configured.
func (s *Snapshot) ScheduleFor(scenarioID int64) Schedule {
	if sched, ok := s.schedules[scenarioID]; ok {
		return sched
	}
	return s.defaultSchedule
}

// Catalog caches the funnel configuration read from the store and refreshes
// it after a TTL, so runtime edits to scenarios, variants, and settings take
// effect without a restart. When a refresh fails the previous snapshot is
// served so transient database trouble does not halt the engine.
type Catalog struct {
	logger   *slog.Logger
	store    database.Store
	ttl      time.Duration
	defaults CatalogDefaults

	mu        sync.Mutex
	snap      *Snapshot
	fetchedAt time.Time
}

func NewCatalog(logger *slog.Logger, store database.Store, ttl time.Duration, defaults CatalogDefaults) *Catalog {
	return &Catalog{
		logger:   logger.With("component", "catalog"),
		store:    store,
		ttl:      ttl,
		defaults: defaults,
	}
}

// Snapshot returns the current configuration view, refreshing it from the
// store when the cached copy has expired.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.snap, nil
	}

	snap, err := c.load(ctx)
	if err != nil {
		if c.snap != nil {
			c.logger.Warn("catalog refresh failed, serving stale snapshot", "error", err)
			return c.snap, nil
		}
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	c.snap = snap
	c.fetchedAt = time.Now()

	return snap, nil
}

// Invalidate drops the cached snapshot so the next read hits the store.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

func (c *Catalog) load(ctx context.Context) (*Snapshot, error) {
	scenarios, err := c.store.ListScenarios(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}

	steps, err := c.store.ListScenarioSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenario steps: %w", err)
	}

	schedules, err := c.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	variants, err := c.store.ListVariants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	settings, err := c.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	snap := &Snapshot{
		Scenarios: make(map[int64]*Scenario, len(scenarios)),
		schedules: make(map[int64]Schedule, len(schedules)),
		defaultSchedule: Schedule{
			MinPause: c.defaults.MinPause,
			MaxPause: c.defaults.MaxPause,
		},
	}

	for _, sc := range scenarios {
		snap.Scenarios[sc.ID] = &Scenario{ID: sc.ID, Name: sc.Name, Active: sc.IsActive}
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].ScenarioID != steps[j].ScenarioID {
			return steps[i].ScenarioID < steps[j].ScenarioID
		}
		return steps[i].StepOrder < steps[j].StepOrder
	})
	for _, st := range steps {
		sc, ok := snap.Scenarios[st.ScenarioID]
		if !ok {
			c.logger.Error("step references unknown scenario", "scenario_id", st.ScenarioID, "step", st.StepOrder)
			continue
		}
		if st.StepOrder != len(sc.Steps) {
			c.logger.Error("scenario steps are not a dense sequence",
				"scenario_id", st.ScenarioID, "expected", len(sc.Steps), "got", st.StepOrder)
			continue
		}
		sc.Steps = append(sc.Steps, Step{
			Index:    st.StepOrder,
			Trigger:  strings.ToLower(st.Trigger),
			Template: st.MessageTemplate,
		})
	}

	// Newest active scenario with at least one step wins.
	for _, sc := range scenarios {
		if !sc.IsActive {
			continue
		}
		full := snap.Scenarios[sc.ID]
		if len(full.Steps) == 0 {
			c.logger.Error("active scenario has no steps", "scenario_id", sc.ID, "name", sc.Name)
			continue
		}
		if snap.Active == nil || full.ID > snap.Active.ID {
			snap.Active = full
		}
	}

	for _, row := range schedules {
		sched, err := c.parseSchedule(row)
		if err != nil {
			c.logger.Error("invalid schedule, using defaults", "scenario_id", row.ScenarioID, "error", err)
			continue
		}
		snap.schedules[row.ScenarioID] = sched
	}

	for _, v := range variants {
		if v.Weight < 1 {
			c.logger.Error("variant has non-positive weight", "variant_id", v.ID, "name", v.Name)
			continue
		}
		snap.Variants = append(snap.Variants, Variant{
			ID:       v.ID,
			Stage:    v.Stage,
			UserType: v.UserType,
			Name:     v.Name,
			Template: v.Template,
			Weight:   v.Weight,
		})
	}

	snap.Settings = c.parseSettings(settings)

	return snap, nil
}

func (c *Catalog) parseSchedule(row database.Schedule) (Schedule, error) {
	start, err := parseClock(row.StartTime)
	if err != nil {
		return Schedule{}, fmt.Errorf("bad start_time %q: %w", row.StartTime, err)
	}

	end, err := parseClock(row.EndTime)
	if err != nil {
		return Schedule{}, fmt.Errorf("bad end_time %q: %w", row.EndTime, err)
	}

	if row.MinPauseSec < 0 || row.MaxPauseSec < row.MinPauseSec {
		return Schedule{}, fmt.Errorf("bad pause range [%d, %d]", row.MinPauseSec, row.MaxPauseSec)
	}

	sched := Schedule{
		WindowStart: start,
		WindowEnd:   end,
		MinPause:    time.Duration(row.MinPauseSec) * time.Second,
		MaxPause:    time.Duration(row.MaxPauseSec) * time.Second,
	}
	if sched.MaxPause == 0 {
		sched.MinPause = c.defaults.MinPause
		sched.MaxPause = c.defaults.MaxPause
	}

	return sched, nil
}

func (c *Catalog) parseSettings(raw map[string]string) Settings {
	s := Settings{
		CTAURL:          raw["cta_url"],
		DailyDMLimit:    c.defaults.DailyDMLimit,
		ChatPostsPerDay: c.defaults.ChatPostsPerDay,
	}

	if v, ok := raw["daily_dm_limit"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.DailyDMLimit = n
		} else {
			c.logger.Error("invalid daily_dm_limit setting", "value", v)
		}
	}

	if v, ok := raw["chat_posts_per_day"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.ChatPostsPerDay = n
		} else {
			c.logger.Error("invalid chat_posts_per_day setting", "value", v)
		}
	}

	if v, ok := raw["target_chats"]; ok {
		for _, chat := range strings.Split(v, ",") {
			if chat = strings.TrimSpace(chat); chat != "" {
				s.TargetChats = append(s.TargetChats, chat)
			}
		}
	}

	return s
}

// parseClock parses an "HH:MM" clock string into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
