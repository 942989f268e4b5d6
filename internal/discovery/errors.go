package discovery

import "errors"

var (
	// ErrInvalidEvent is returned for malformed discovery events.
	ErrInvalidEvent = errors.New("discovery: invalid event")

	// ErrDeviceNotFound is returned when a device is not in the cache.
	ErrDeviceNotFound = errors.New("discovery: device not found")
)
