// Package stats computes A/B performance reports from the event log and the
// conversions table using last-touch attribution.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"usebot/internal/database"
)

// VariantPerformance aggregates sends and attributed conversions for one
// (variant, user type) pair over a reporting window.
type VariantPerformance struct {
	Variant     string  `json:"variant"`
	UserType    string  `json:"user_type"`
	Sends       int     `json:"sends"`
	Conversions int     `json:"conversions"`
	Rate        float64 `json:"rate"`
}

// Report is the output of one aggregation run.
type Report struct {
	From     time.Time            `json:"from"`
	To       time.Time            `json:"to"`
	Variants []VariantPerformance `json:"variants"`
}

// Aggregator reads sends and conversions and attributes each conversion to
// the most recent message sent to that user before the conversion occurred.
type Aggregator struct {
	logger *slog.Logger
	store  database.Store
}

func NewAggregator(logger *slog.Logger, store database.Store) *Aggregator {
	return &Aggregator{
		logger: logger.With("component", "stats"),
		store:  store,
	}
}

// ComputeABPerformance builds the per-variant report for a time window.
func (a *Aggregator) ComputeABPerformance(ctx context.Context, from, to time.Time) (*Report, error) {
	sends, err := a.store.ListSentEvents(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent events: %w", err)
	}

	conversions, err := a.store.ListConversions(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}

	report := &Report{From: from, To: to}
	report.Variants = attribute(sends, conversions)

	return report, nil
}

type variantKey struct {
	variant  string
	userType string
}

// attribute pairs each conversion with the latest prior send for the same
// user. Conversions with no prior send in the window stay unattributed and
// are dropped from the per-variant rows.
func attribute(sends []database.SentEvent, conversions []database.Conversion) []VariantPerformance {
	byUser := make(map[int64][]database.SentEvent)
	counts := make(map[variantKey]*VariantPerformance)

	for _, s := range sends {
		if s.Variant == "" {
			continue
		}
		byUser[s.UserID] = append(byUser[s.UserID], s)

		key := variantKey{variant: s.Variant, userType: s.UserType}
		row, ok := counts[key]
		if !ok {
			row = &VariantPerformance{Variant: s.Variant, UserType: s.UserType}
			counts[key] = row
		}
		row.Sends++
	}

	for _, userSends := range byUser {
		sort.Slice(userSends, func(i, j int) bool {
			return userSends[i].At.Before(userSends[j].At)
		})
	}

	for _, c := range conversions {
		touch := lastTouch(byUser[c.UserID], c.CreatedAt)
		if touch == nil {
			continue
		}
		counts[variantKey{variant: touch.Variant, userType: touch.UserType}].Conversions++
	}

	rows := make([]VariantPerformance, 0, len(counts))
	for _, row := range counts {
		if row.Sends > 0 {
			row.Rate = float64(row.Conversions) / float64(row.Sends)
		}
		rows = append(rows, *row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Variant != rows[j].Variant {
			return rows[i].Variant < rows[j].Variant
		}
		return rows[i].UserType < rows[j].UserType
	})

	return rows
}

// lastTouch returns the latest send at or before the instant. The sends
// slice must be sorted ascending by time.
func lastTouch(sends []database.SentEvent, at time.Time) *database.SentEvent {
	idx := sort.Search(len(sends), func(i int) bool {
		return sends[i].At.After(at)
	})
	if idx == 0 {
		return nil
	}
	return &sends[idx-1]
}
