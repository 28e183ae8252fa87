package funnel

import (
	"math/rand"
	"time"
)

// Contains reports whether the instant falls inside the schedule's allowed
// time-of-day window, in t's location.
func (s Schedule) Contains(t time.Time) bool {
	if s.WindowStart == s.WindowEnd {
		return true
	}

	offset := timeOfDay(t)
	if s.WindowStart < s.WindowEnd {
		return offset >= s.WindowStart && offset <= s.WindowEnd
	}
	// Window wraps past midnight, e.g. 22:00-06:00.
	return offset >= s.WindowStart || offset <= s.WindowEnd
}

// NextEligibleTime computes the earliest permissible next-action instant for
// a dialog: now plus a uniformly random pause from [MinPause, MaxPause],
// pushed forward to the next window opening when the candidate falls outside
// the allowed time-of-day window. The random source is injected so scheduling
// decisions are reproducible in tests.
func NextEligibleTime(s Schedule, now time.Time, rng *rand.Rand) time.Time {
	pause := s.MinPause
	if span := s.MaxPause - s.MinPause; span > 0 {
		pause += time.Duration(rng.Int63n(int64(span) + 1))
	}

	candidate := now.Add(pause)
	if s.Contains(candidate) {
		return candidate
	}
	return s.nextOpening(candidate)
}

// nextOpening returns the first instant at or after t when the window opens.
func (s Schedule) nextOpening(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	opening := midnight.Add(s.WindowStart)
	if opening.After(t) {
		return opening
	}
	return opening.AddDate(0, 0, 1)
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}
