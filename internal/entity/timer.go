package entity

import (
	"fmt"
	"time"

	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/device"
)

// State values reported for a timer entity.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnavailable = "unavailable"
)

// Timer phases carried by state-change events.
const (
	PhaseRunning = "running"
	PhaseIdle    = "idle"
)

// TimerEntity is the running-state sensor for one display.
type TimerEntity struct {
	coord *coordinator.Coordinator
	now   func() time.Time
}

// NewTimerEntity wraps a coordinator.
func NewTimerEntity(c *coordinator.Coordinator) *TimerEntity {
	return &TimerEntity{coord: c, now: time.Now}
}

// UniqueID equals the device unique ID.
func (e *TimerEntity) UniqueID() string { return e.coord.Device().UniqueID }

// EntityID is binary_sensor.<name>_timer.
func (e *TimerEntity) EntityID() string { return e.coord.Device().EntityID() }

// Name is the entity's display name.
func (e *TimerEntity) Name() string { return "Timer" }

// Device returns the display identity.
func (e *TimerEntity) Device() device.Device { return e.coord.Device() }

// Coordinator returns the backing coordinator.
func (e *TimerEntity) Coordinator() *coordinator.Coordinator { return e.coord }

// Available is true when the last update succeeded and the device reported
// itself available.
func (e *TimerEntity) Available() bool {
	return e.coord.LastUpdateSuccess() && e.coord.Data().Available
}

// IsOn reports whether a timer is running.
func (e *TimerEntity) IsOn() bool {
	return e.coord.Data().Running(e.now())
}

// Snapshot captures the entity's current presentation.
func (e *TimerEntity) Snapshot() State {
	data := e.coord.Data()
	now := e.now()
	available := e.coord.LastUpdateSuccess() && data.Available
	running := data.Running(now)

	st := StateOff
	switch {
	case !available:
		st = StateUnavailable
	case running:
		st = StateOn
	}

	return State{
		UniqueID:   e.UniqueID(),
		EntityID:   e.EntityID(),
		Name:       e.Name(),
		Device:     e.coord.Device().Name,
		State:      st,
		Available:  available,
		Running:    running,
		EndMs:      data.EndMs,
		Attributes: attributes(e.coord.Device(), data, now),
		UpdatedAt:  now.UTC(),
	}
}

// State is a point-in-time view of a TimerEntity.
type State struct {
	UniqueID   string            `json:"unique_id"`
	EntityID   string            `json:"entity_id"`
	Name       string            `json:"name"`
	Device     string            `json:"device"`
	State      string            `json:"state"`
	Available  bool              `json:"available"`
	Running    bool              `json:"running"`
	EndMs      *int64            `json:"end_ms"`
	Attributes device.Properties `json:"attributes"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Phase returns PhaseRunning or PhaseIdle.
func (s State) Phase() string {
	if s.Running {
		return PhaseRunning
	}
	return PhaseIdle
}

// attributes builds the extra attributes. Device properties are merged
// last and win over the computed keys.
func attributes(dev device.Device, data device.TimerData, now time.Time) device.Properties {
	var attrs device.Properties
	if data.EndMs != nil {
		attrs.Set("end_ms", *data.EndMs)
	} else {
		attrs.Set("end_ms", nil)
	}
	attrs.Set("device", dev.Name)
	attrs.Set("start_time_utc", nil)
	attrs.Set("end_time_utc", nil)
	attrs.Set("remaining_time", "idle")

	if startMs, ok := data.Properties.Int64("startTime"); ok && startMs != 0 {
		attrs.Set("start_time_utc", formatUTC(startMs))
	}
	if end, ok := data.EndTime(); ok {
		attrs.Set("end_time_utc", formatUTC(end.UnixMilli()))
		attrs.Set("remaining_time", FormatRemaining(end.Sub(now)))
	}

	data.Properties.Range(func(k string, v any) bool {
		attrs.Set(k, v)
		return true
	})
	return attrs
}

func formatUTC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// FormatRemaining renders whole seconds left as "Ym Zs" or "Xh Ym Zs",
// and "0s" once nothing remains.
func FormatRemaining(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0s"
	}
	mins, secs := secs/60, secs%60
	hrs, mins := mins/60, mins%60
	if hrs > 0 {
		return fmt.Sprintf("%dh %dm %ds", hrs, mins, secs)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
