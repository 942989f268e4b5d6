package entity

import "errors"

var (
	// ErrNotFound is returned when an entity or registry record does not exist.
	ErrNotFound = errors.New("entity: not found")

	// ErrInvalidOption is returned for a timer type outside TimerTypeOptions.
	ErrInvalidOption = errors.New("entity: invalid timer type")
)
