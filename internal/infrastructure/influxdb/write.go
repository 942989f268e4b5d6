package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementTimerState = "timer_state"
	measurementPoll       = "timer_poll"
)

// TimerSample is one observation of a timer entity after a refresh.
type TimerSample struct {
	UniqueID            string
	Device              string
	Available           bool
	Running             bool
	RemainingSeconds    float64
	ConsecutiveFailures int
	At                  time.Time
}

// WriteTimerState records a TimerSample. Non-blocking; a disconnected
// client drops the sample.
func (c *Client) WriteTimerState(s TimerSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(timerStatePoint(s))
}

// WritePollResult records the outcome and latency of one GET /timer.
func (c *Client) WritePollResult(uniqueID string, ok bool, latency time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		measurementPoll,
		map[string]string{"unique_id": uniqueID},
		map[string]interface{}{
			"success":    ok,
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
		time.Now(),
	))
}

func timerStatePoint(s TimerSample) *write.Point {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		measurementTimerState,
		map[string]string{
			"unique_id": s.UniqueID,
			"device":    s.Device,
		},
		map[string]interface{}{
			"available":            s.Available,
			"running":              s.Running,
			"remaining_seconds":    s.RemainingSeconds,
			"consecutive_failures": int64(s.ConsecutiveFailures),
		},
		at,
	)
}
