package integration

import "errors"

var (
	// ErrUnknownService is returned by CallService for unregistered names.
	ErrUnknownService = errors.New("integration: unknown service")

	// ErrEntityNotFound is returned when no coordinator has the unique ID.
	ErrEntityNotFound = errors.New("integration: entity not found")

	// ErrNotRunning is returned by Submit before Start or after Unload.
	ErrNotRunning = errors.New("integration: not running")
)
