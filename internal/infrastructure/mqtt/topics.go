package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Timerly topic.
const TopicPrefix = "timerly"

// Topics builds the Timerly topic hierarchy:
//
//	timerly/system/status                 retained daemon status + LWT
//	timerly/state/{unique_id}             retained entity state
//	timerly/availability/{unique_id}      retained "online" / "offline"
//	timerly/event/{event_type}            entity events
//	timerly/command/{service}             service calls into the daemon
//	timerly/discovery/announce            device added/removed announcements
type Topics struct{}

// SystemStatus returns the daemon status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// EntityState returns the retained state topic for an entity.
func (Topics) EntityState(uniqueID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, uniqueID)
}

// EntityAvailability returns the retained availability topic for an entity.
func (Topics) EntityAvailability(uniqueID string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, uniqueID)
}

// Event returns the topic for one event type.
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// Command returns the topic a service call is published on.
func (Topics) Command(service string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, service)
}

// AllCommands matches every service command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// DiscoveryAnnounce is where devices (or bridges) announce themselves.
func (Topics) DiscoveryAnnounce() string {
	return TopicPrefix + "/discovery/announce"
}

// ParseCommand extracts the service name from a command topic.
func (Topics) ParseCommand(topic string) (string, bool) {
	service, ok := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !ok || service == "" || strings.Contains(service, "/") {
		return "", false
	}
	return service, true
}
