package device

import "time"

// TimerData is the result of one successful poll of GET /timer.
type TimerData struct {
	Available  bool       `json:"available"`
	Properties Properties `json:"properties"`
	// EndMs is the running timer's end in milliseconds since the Unix
	// epoch; nil when no timer runs.
	EndMs *int64 `json:"end_ms"`
}

// IdleData is reported for a device with no timer, and as the placeholder
// while a first failure is being tolerated.
func IdleData() TimerData {
	return TimerData{Available: true}
}

// EndTime returns the timer end. A missing or zero EndMs means idle.
func (d TimerData) EndTime() (time.Time, bool) {
	if d.EndMs == nil || *d.EndMs == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(*d.EndMs), true
}

// Running reports whether a timer is set to end after now.
func (d TimerData) Running(now time.Time) bool {
	end, ok := d.EndTime()
	return ok && end.After(now)
}

// Remaining returns the time left until the end, or zero.
func (d TimerData) Remaining(now time.Time) time.Duration {
	end, ok := d.EndTime()
	if !ok || !end.After(now) {
		return 0
	}
	return end.Sub(now)
}

// Clone returns a deep copy.
func (d TimerData) Clone() TimerData {
	out := TimerData{Available: d.Available, Properties: d.Properties.Clone()}
	if d.EndMs != nil {
		out.EndMs = Int64Ptr(*d.EndMs)
	}
	return out
}

// Int64Ptr returns a pointer to a copy of v.
func Int64Ptr(v int64) *int64 { return &v }
