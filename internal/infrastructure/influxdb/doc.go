// Package influxdb writes timer telemetry to InfluxDB v2.
//
// Every coordinator refresh produces a timer_state point (availability,
// running flag, remaining seconds, consecutive failures) tagged with the
// entity unique_id and device name, and a timer_poll point with the
// request outcome and latency.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WriteTimerState(influxdb.TimerSample{UniqueID: "timerly_office_tv", Running: true})
package influxdb
