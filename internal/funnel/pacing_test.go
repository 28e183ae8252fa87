// Package funnel_test tests the funnel package.
package funnel_test

import (
	"math/rand"
	"testing"
	"time"

	"usebot/internal/funnel"
)

func hours(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func TestNextEligibleTime(t *testing.T) {
	t.Parallel()

	daySchedule := funnel.Schedule{
		WindowStart: hours(9, 0),
		WindowEnd:   hours(21, 0),
		MinPause:    60 * time.Second,
		MaxPause:    60 * time.Second,
	}
	nightSchedule := funnel.Schedule{
		WindowStart: hours(22, 0),
		WindowEnd:   hours(6, 0),
		MinPause:    60 * time.Second,
		MaxPause:    60 * time.Second,
	}
	alwaysOpen := funnel.Schedule{
		WindowStart: hours(8, 0),
		WindowEnd:   hours(8, 0),
		MinPause:    60 * time.Second,
		MaxPause:    60 * time.Second,
	}

	testCases := []struct {
		name     string
		schedule funnel.Schedule
		now      time.Time
		expected time.Time
	}{
		{
			name:     "inside window stays put",
			schedule: daySchedule,
			now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC),
		},
		{
			name:     "pause crossing window close rolls to next opening",
			schedule: daySchedule,
			now:      time.Date(2026, 3, 10, 20, 59, 50, 0, time.UTC),
			expected: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "before window opens waits for today's opening",
			schedule: daySchedule,
			now:      time.Date(2026, 3, 10, 7, 30, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "wrapping window allows late night",
			schedule: nightSchedule,
			now:      time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 10, 23, 1, 0, 0, time.UTC),
		},
		{
			name:     "wrapping window allows early morning",
			schedule: nightSchedule,
			now:      time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 10, 5, 1, 0, 0, time.UTC),
		},
		{
			name:     "wrapping window waits during daytime",
			schedule: nightSchedule,
			now:      time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC),
		},
		{
			name:     "equal start and end is always open",
			schedule: alwaysOpen,
			now:      time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 10, 3, 1, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rng := rand.New(rand.NewSource(1))
			got := funnel.NextEligibleTime(tc.schedule, tc.now, rng)
			if !got.Equal(tc.expected) {
				t.Errorf("NextEligibleTime() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestNextEligibleTimePauseRange(t *testing.T) {
	t.Parallel()

	schedule := funnel.Schedule{
		MinPause: 30 * time.Second,
		MaxPause: 120 * time.Second,
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		got := funnel.NextEligibleTime(schedule, now, rng)
		pause := got.Sub(now)
		if pause < 30*time.Second || pause > 120*time.Second {
			t.Fatalf("pause %v outside [30s, 120s]", pause)
		}
	}
}

func TestNextEligibleTimeDeterministic(t *testing.T) {
	t.Parallel()

	schedule := funnel.Schedule{
		WindowStart: hours(9, 0),
		WindowEnd:   hours(21, 0),
		MinPause:    30 * time.Second,
		MaxPause:    120 * time.Second,
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	a := funnel.NextEligibleTime(schedule, now, rand.New(rand.NewSource(7)))
	b := funnel.NextEligibleTime(schedule, now, rand.New(rand.NewSource(7)))
	if !a.Equal(b) {
		t.Errorf("same seed produced different instants: %v vs %v", a, b)
	}
}

func TestScheduleContains(t *testing.T) {
	t.Parallel()

	schedule := funnel.Schedule{WindowStart: hours(9, 0), WindowEnd: hours(21, 0)}

	if !schedule.Contains(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Error("window start should be inside")
	}
	if !schedule.Contains(time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)) {
		t.Error("window end should be inside")
	}
	if schedule.Contains(time.Date(2026, 3, 10, 21, 0, 1, 0, time.UTC)) {
		t.Error("one second past the window should be outside")
	}
}
