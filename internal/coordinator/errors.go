package coordinator

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUpdateFailed is returned once consecutive failures reach the threshold.
	ErrUpdateFailed = errors.New("coordinator: update failed")

	// ErrFirstRefresh is returned when the initial poll fails.
	ErrFirstRefresh = errors.New("coordinator: first refresh failed")

	// ErrNoQueue is returned by New when no timer queue is supplied.
	ErrNoQueue = errors.New("coordinator: timer queue is required")
)

// FetchError describes a failed poll. StatusCode is set for unexpected HTTP
// responses; Err is set for transport and decoding failures.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		if e.StatusCode != 0 {
			return fmt.Sprintf("fetch timer: status %d: %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("fetch timer: %v", e.Err)
	}
	return fmt.Sprintf("fetch timer: unexpected status %d", e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
