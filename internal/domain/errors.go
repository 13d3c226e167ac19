package domain

import "errors"

var (
	// ErrNotFound is returned when an item, checkback or endpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTerminalState rejects a status write against an item that already
	// reached published, cancelled or max_retries_reached.
	ErrTerminalState = errors.New("item is in a terminal state")

	// ErrNotCancellable rejects cancellation while an item is claimed or
	// publishing; the in-flight attempt must resolve first.
	ErrNotCancellable = errors.New("item cannot be cancelled in its current state")

	// ErrUnknownPlatform is returned when no adapter is registered for the
	// item's target platform.
	ErrUnknownPlatform = errors.New("no adapter registered for platform")
)
