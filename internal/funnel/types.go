// Package funnel implements the funnel progression engine: per-dialog state
// transitions, pacing windows, budget checks, weighted variant selection, and
// event recording.
package funnel

import (
	"context"
	"strings"
	"time"
)

// User classification labels. DefaultUserType doubles as the fallback label
// for variant selection.
const (
	DefaultUserType   = "default"
	UserTypeSkeptical = "skeptical"
	UserTypePlayful   = "playful"
	UserTypeSerious   = "serious"
)

// Step is one stage of a scenario. An empty Trigger marks a timed step that
// fires when the dialog's pacing window elapses; a non-empty Trigger fires on
// a matching inbound message.
type Step struct {
	Index    int
	Trigger  string
	Template string
}

// Scenario is a funnel definition: an ordered, dense list of steps.
type Scenario struct {
	ID     int64
	Name   string
	Active bool
	Steps  []Step
}

// Completed reports whether the given step index is past the last step.
func (s *Scenario) Completed(step int) bool {
	return step >= len(s.Steps)
}

// Schedule bounds when a scenario may act. WindowStart and WindowEnd are
// offsets from midnight; a window with start > end wraps past midnight, and
// start == end means the window is always open. MinPause <= MaxPause holds
// for any schedule produced by the catalog.
type Schedule struct {
	WindowStart time.Duration
	WindowEnd   time.Duration
	MinPause    time.Duration
	MaxPause    time.Duration
}

// Settings are runtime-editable knobs read from the settings table.
type Settings struct {
	CTAURL          string
	DailyDMLimit    int
	ChatPostsPerDay int
	TargetChats     []string
}

// Variant is one candidate message rendering for a funnel stage.
type Variant struct {
	ID       int64
	Stage    int
	UserType string
	Name     string
	Template string
	Weight   int
}

// InboundSignal is a user reply delivered by the inbound-signal source.
type InboundSignal struct {
	UserID    int64
	ChatID    int64
	FirstName string
	Text      string
	At        time.Time
}

// ConversionSignal is a conversion fact delivered by an external collaborator.
type ConversionSignal struct {
	UserID         int64
	ChatID         int64
	ConversionType string
	Stage          int
	At             time.Time
}

// Sender delivers one message to a chat. Implementations make at most one
// attempt per call; the engine owns retries. ChatID may be a numeric chat id
// or a chat username string.
type Sender interface {
	Send(ctx context.Context, chatID any, text string) error
}

// RenderTemplate expands the placeholders supported by message templates.
func RenderTemplate(template, firstName, ctaURL string) string {
	out := strings.ReplaceAll(template, "{first_name}", firstName)
	out = strings.ReplaceAll(out, "{cta_url}", ctaURL)
	return out
}
