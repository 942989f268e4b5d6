// Package entity presents polled displays to the outside world.
//
// Each coordinator is exposed as one TimerEntity: a running-state binary
// sensor with availability and display attributes. A Collection holds the
// entities, persists them in the entity registry and fans every update out
// through a Publisher (MQTT, WebSocket, InfluxDB and the state history).
//
// The package also owns the integration-wide timer type selection.
package entity
