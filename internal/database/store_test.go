// Package database_test tests the data access layer against an in-memory
// SQLite database with the real migrations applied.
package database_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usebot/internal/database"
)

func newTestStore(t *testing.T) (*sqlx.DB, database.Store) {
	t.Helper()

	db, err := database.NewDB(":memory:")
	require.NoError(t, err, "failed to open in-memory database")
	t.Cleanup(func() { database.CloseDB(db) })

	return db, database.NewStore(db, nil)
}

func TestGetDialogStateCreatesOnce(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	state, err := store.GetDialogState(ctx, 10, 20)
	require.NoError(t, err)
	assert.False(t, state.ScenarioID.Valid)
	assert.Equal(t, 0, state.StepOrder)
	assert.Equal(t, int64(0), state.Version)

	again, err := store.GetDialogState(ctx, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, state.Version, again.Version, "re-read must not mutate the row")

	_, err = store.GetDialogState(ctx, 0, 20)
	assert.Error(t, err, "zero user id must be rejected")
}

func TestAssignScenario(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AssignScenario(ctx, 1, 1, 7))

	state, err := store.GetDialogState(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, state.ScenarioID.Valid)
	assert.Equal(t, int64(7), state.ScenarioID.Int64)
	assert.Equal(t, int64(1), state.Version)

	// Assigning the same scenario again is a no-op.
	require.NoError(t, store.AssignScenario(ctx, 1, 1, 7))

	// A different scenario is refused.
	err = store.AssignScenario(ctx, 1, 1, 8)
	assert.ErrorIs(t, err, database.ErrAlreadyAssigned)
}

func TestAdvanceDialogOptimisticLocking(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AssignScenario(ctx, 2, 2, 1))
	state, err := store.GetDialogState(ctx, 2, 2)
	require.NoError(t, err)

	eligible := time.Now().Add(time.Minute)
	adv := database.DialogAdvance{
		UserID:         2,
		ChatID:         2,
		ScenarioID:     1,
		NextStep:       1,
		Version:        state.Version,
		NextEligibleAt: &eligible,
	}
	require.NoError(t, store.AdvanceDialog(ctx, adv))

	// Replaying with the stale version must conflict.
	err = store.AdvanceDialog(ctx, adv)
	assert.ErrorIs(t, err, database.ErrConflict)

	updated, err := store.GetDialogState(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.StepOrder)
	assert.Equal(t, state.Version+1, updated.Version)
	require.True(t, updated.NextEligibleAt.Valid)
}

func TestDeferDialog(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AssignScenario(ctx, 3, 3, 1))
	state, err := store.GetDialogState(ctx, 3, 3)
	require.NoError(t, err)

	eligible := time.Now().Add(time.Hour)
	require.NoError(t, store.DeferDialog(ctx, 3, 3, eligible, state.Version))

	deferred, err := store.GetDialogState(ctx, 3, 3)
	require.NoError(t, err)
	assert.True(t, deferred.Pending)
	require.True(t, deferred.NextEligibleAt.Valid)

	err = store.DeferDialog(ctx, 3, 3, eligible, state.Version)
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestListDueDialogs(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	mkDialog := func(userID int64, eligibleAt time.Time) {
		require.NoError(t, store.AssignScenario(ctx, userID, 1, 1))
		state, err := store.GetDialogState(ctx, userID, 1)
		require.NoError(t, err)
		require.NoError(t, store.AdvanceDialog(ctx, database.DialogAdvance{
			UserID:         userID,
			ChatID:         1,
			ScenarioID:     1,
			NextStep:       0,
			Version:        state.Version,
			NextEligibleAt: &eligibleAt,
		}))
	}

	mkDialog(100, now.Add(-time.Minute))
	mkDialog(101, now.Add(-time.Second))
	mkDialog(102, now.Add(time.Hour))

	// No eligibility time at all.
	require.NoError(t, store.AssignScenario(ctx, 103, 1, 1))

	due, err := store.ListDueDialogs(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, int64(100), due[0].UserID, "earliest eligibility first")
	assert.Equal(t, int64(101), due[1].UserID)

	limited, err := store.ListDueDialogs(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTryConsumeBudget(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := store.TryConsumeBudget(ctx, 5, "2026-03-10", database.ChannelDirect, 2)
		require.NoError(t, err)
		assert.True(t, ok, "consume %d should fit the limit", i+1)
	}

	ok, err := store.TryConsumeBudget(ctx, 5, "2026-03-10", database.ChannelDirect, 2)
	require.NoError(t, err)
	assert.False(t, ok, "limit reached")

	// A new day resets the counter.
	ok, err = store.TryConsumeBudget(ctx, 5, "2026-03-11", database.ChannelDirect, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	// Channels are budgeted independently.
	ok, err = store.TryConsumeBudget(ctx, 5, "2026-03-10", database.ChannelGroup, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// A zero limit admits nothing.
	ok, err = store.TryConsumeBudget(ctx, 6, "2026-03-10", database.ChannelDirect, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryConsumeBudgetConcurrent(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	const (
		callers = 20
		limit   = 5
	)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryConsumeBudget(ctx, 8, "2026-03-10", database.ChannelDirect, limit)
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), granted.Load(), "grants never exceed the limit under contention")

	ok, err := store.TryConsumeBudget(ctx, 8, "2026-03-10", database.ChannelDirect, limit)
	require.NoError(t, err)
	assert.False(t, ok, "counter is saturated")
}

func TestPruneBudgetCounters(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	for _, day := range []string{"2026-03-01", "2026-03-05", "2026-03-10"} {
		_, err := store.TryConsumeBudget(ctx, 7, day, database.ChannelDirect, 5)
		require.NoError(t, err)
	}

	pruned, err := store.PruneBudgetCounters(ctx, "2026-03-06")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}

func TestUserProfileRoundTrip(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	profile, err := store.GetOrCreateUserProfile(ctx, 42, "Ann")
	require.NoError(t, err)
	assert.Equal(t, "Ann", profile.FirstName)
	assert.Equal(t, "default", profile.UserType)

	profile.UserType = "skeptical"
	profile.InteractionCount = 3
	profile.ConversionStage = 2
	require.NoError(t, store.SaveUserProfile(ctx, profile))

	reloaded, err := store.GetOrCreateUserProfile(ctx, 42, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "Ann", reloaded.FirstName, "existing profile keeps its name")
	assert.Equal(t, "skeptical", reloaded.UserType)
	assert.Equal(t, 3, reloaded.InteractionCount)
	assert.Equal(t, 2, reloaded.ConversionStage)
}

func TestEventLogAndLastSentVariant(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, "sent", database.SentEvent{
		IntentID: "i-1", UserID: 1, ChatID: 1, Variant: "a", UserType: "default", Stage: 0,
	}))
	require.NoError(t, store.AppendEvent(ctx, "sent", database.SentEvent{
		IntentID: "i-2", UserID: 1, ChatID: 1, Variant: "b", UserType: "default", Stage: 1,
	}))
	require.NoError(t, store.AppendEvent(ctx, "sent", database.SentEvent{
		IntentID: "i-3", UserID: 2, ChatID: 2, Variant: "c", UserType: "default", Stage: 0,
	}))
	require.NoError(t, store.AppendEvent(ctx, "received", map[string]any{"user_id": 1}))

	last, err := store.LastSentVariant(ctx, 1, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "b", last.Variant, "latest send wins")

	none, err := store.LastSentVariant(ctx, 99, time.Now())
	require.NoError(t, err)
	assert.Nil(t, none, "no sends means no attribution")

	sent, err := store.ListSentEvents(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, sent, 3, "only sent events are decoded")
}

func TestConversions(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	conv := &database.Conversion{UserID: 1, ChatID: 1, ConversionType: "cta_sent", Stage: 3}
	conv.VariantUsed.String = "a"
	conv.VariantUsed.Valid = true
	require.NoError(t, store.InsertConversion(ctx, conv))

	listed, err := store.ListConversions(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "cta_sent", listed[0].ConversionType)
	assert.Equal(t, "a", listed[0].VariantUsed.String)
}

func TestSettingsAndAutoPosts(t *testing.T) {
	t.Parallel()

	db, store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.ExecContext(ctx, `
        INSERT INTO settings (key, value, updated_at) VALUES
            ('cta_url', 'https://example.com', ?),
            ('daily_dm_limit', '5', ?);
    `, now, now)
	require.NoError(t, err)

	settings, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", settings["cta_url"])
	assert.Equal(t, "5", settings["daily_dm_limit"])

	_, err = db.ExecContext(ctx, `
        INSERT INTO auto_posts (template, weight, last_used) VALUES
            ('fresh', 1, NULL),
            ('stale', 2, ?),
            ('recent', 3, ?);
    `, now.Add(-48*time.Hour), now)
	require.NoError(t, err)

	candidates, err := store.ListAutoPostCandidates(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 2, "recently used templates are excluded")

	require.NoError(t, store.TouchAutoPost(ctx, candidates[0].ID, now))
	candidates, err = store.ListAutoPostCandidates(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestStatsSummary(t *testing.T) {
	t.Parallel()

	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AssignScenario(ctx, 1, 1, 1))
	require.NoError(t, store.AppendEvent(ctx, "received", map[string]any{"user_id": 1}))

	profile, err := store.GetOrCreateUserProfile(ctx, 1, "Ann")
	require.NoError(t, err)
	profile.UserType = "serious"
	require.NoError(t, store.SaveUserProfile(ctx, profile))

	require.NoError(t, store.InsertConversion(ctx, &database.Conversion{
		UserID: 1, ChatID: 1, ConversionType: "cta_sent", Stage: 3,
	}))

	summary, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dialogs)
	assert.Equal(t, 1, summary.Events)
	assert.Equal(t, 1, summary.Conversions)
	assert.Equal(t, 1, summary.ConversionsByStage[3])
	assert.Equal(t, 1, summary.UserTypes["serious"])
}
