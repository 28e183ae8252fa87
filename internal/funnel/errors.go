package funnel

import "errors"

var (
	// ErrNoVariant indicates no message variant exists for a (stage, user type)
	// pair. This is a configuration-integrity error: it must be surfaced to an
	// operator, not retried.
	ErrNoVariant = errors.New("no message variant configured")

	// ErrRecorderUnavailable indicates the event recorder could not persist an
	// event within its bounded timeout. Telemetry failures never roll back the
	// funnel transition that produced them.
	ErrRecorderUnavailable = errors.New("event recorder unavailable")

	// ErrSendFailed indicates delivery attempts for a transition were exhausted.
	// The dialog is left at its pre-transition state.
	ErrSendFailed = errors.New("message delivery failed")
)
