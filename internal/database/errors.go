package database

import "errors"

var (
	// ErrConflict indicates a dialog state mutation lost an optimistic
	// concurrency race; the caller should re-read and retry the decision.
	ErrConflict = errors.New("dialog state version conflict")

	// ErrAlreadyAssigned indicates a scenario assignment was attempted on a
	// dialog already assigned to a different scenario.
	ErrAlreadyAssigned = errors.New("dialog already assigned to another scenario")
)
