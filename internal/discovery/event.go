package discovery

import (
	"fmt"

	"github.com/nerrad567/timerly-core/internal/device"
)

// EventType distinguishes discovery events.
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
)

// Event is one discovery notification. Name is the raw advertised name;
// Address and Port are meaningless for EventRemoved.
type Event struct {
	Type    EventType `json:"event"`
	Name    string    `json:"name"`
	Address string    `json:"address,omitempty"`
	Port    int       `json:"port,omitempty"`
	Source  string    `json:"source,omitempty"`
}

// Added builds an EventAdded.
func Added(rawName, address string, port int, source string) Event {
	return Event{Type: EventAdded, Name: rawName, Address: address, Port: port, Source: source}
}

// Removed builds an EventRemoved.
func Removed(rawName, source string) Event {
	return Event{Type: EventRemoved, Name: rawName, Source: source}
}

// Device returns the identity described by the event.
func (e Event) Device() device.Device {
	return device.New(e.Name, e.Address, e.Port)
}

// CleanName returns the cache key for the event.
func (e Event) CleanName() string {
	return device.CleanName(e.Name)
}

// Validate checks the fields required for the event type.
func (e Event) Validate() error {
	switch e.Type {
	case EventAdded:
		if e.CleanName() == "" {
			return fmt.Errorf("%w: empty device name", ErrInvalidEvent)
		}
		if e.Address == "" {
			return fmt.Errorf("%w: address is required", ErrInvalidEvent)
		}
		if e.Port < 1 || e.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidEvent, e.Port)
		}
	case EventRemoved:
		if e.CleanName() == "" {
			return fmt.Errorf("%w: empty device name", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, e.Type)
	}
	return nil
}
