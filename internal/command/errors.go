package command

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("command: invalid request")

	// ErrNoDuration is returned when a start request sets no positive
	// seconds, minutes or future end time.
	ErrNoDuration = errors.New("command: one of endTime, minutes or seconds is required")

	// ErrEndTimeInPast is returned when endTime is earlier than now.
	ErrEndTimeInPast = errors.New("command: end time must be in the future")

	// ErrNoDevices is returned when explicit targets match no device.
	ErrNoDevices = errors.New("command: no devices matched")
)

// DeviceError is a failed POST to one display.
type DeviceError struct {
	Device     string
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command: POST /%s to %s: %v", e.Endpoint, e.Device, e.Err)
	}
	return fmt.Sprintf("command: POST /%s to %s: unexpected status %d", e.Endpoint, e.Device, e.StatusCode)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
