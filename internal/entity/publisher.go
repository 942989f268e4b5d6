package entity

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/timerly-core/internal/infrastructure/mqtt"
)

// EventStateChanged is emitted when a timer starts or finishes.
const EventStateChanged = "timerly_timer_state_changed"

// WebSocket channels used for broadcasts.
const (
	ChannelState = "entity.state"
	ChannelEvent = "entity.event"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
	availabilityQoS     = 1
	historyTimeout      = 5 * time.Second
)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTPublisher is the part of the MQTT client used for state output.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, v any, retained bool) error
}

// Broadcaster pushes messages to WebSocket subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// TelemetryWriter records time-series points.
type TelemetryWriter interface {
	WriteTimerState(s influxdb.TimerSample)
	WritePollResult(uniqueID string, ok bool, latency time.Duration)
}

// StateChangedEvent is published when an entity moves between running and idle.
type StateChangedEvent struct {
	EventType string    `json:"event_type"`
	EntityID  string    `json:"entity_id"`
	UniqueID  string    `json:"unique_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// PublisherOptions configures a Publisher. Every output is optional.
type PublisherOptions struct {
	MQTT      MQTTPublisher
	Hub       Broadcaster
	Telemetry TelemetryWriter
	History   HistoryRepository
	Logger    Logger
}

// Publisher fans entity state out to every configured output.
//
// Thread Safety: All methods are safe for concurrent use.
type Publisher struct {
	mqtt      MQTTPublisher
	hub       Broadcaster
	telemetry TelemetryWriter
	history   HistoryRepository
	logger    Logger
	topics    mqtt.Topics

	mu   sync.Mutex
	last map[string]State
}

// NewPublisher creates a Publisher.
func NewPublisher(opts PublisherOptions) *Publisher {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Publisher{
		mqtt:      opts.MQTT,
		hub:       opts.Hub,
		telemetry: opts.Telemetry,
		history:   opts.History,
		logger:    opts.Logger,
		last:      make(map[string]State),
	}
}

// Publish emits s. The state history only records snapshots whose
// availability, running flag or end time differ from the previous one.
func (p *Publisher) Publish(ctx context.Context, s State, poll coordinator.PollStats, failures int) {
	p.mu.Lock()
	prev, had := p.last[s.UniqueID]
	p.last[s.UniqueID] = s
	p.mu.Unlock()

	p.publishMQTT(s)
	if p.hub != nil {
		p.hub.Broadcast(ChannelState, s)
	}
	p.writeTelemetry(s, poll, failures)

	if !had || stateChanged(prev, s) {
		p.recordHistory(ctx, s)
	}
	if had && prev.Running != s.Running {
		p.publishEvent(StateChangedEvent{
			EventType: EventStateChanged,
			EntityID:  s.EntityID,
			UniqueID:  s.UniqueID,
			From:      prev.Phase(),
			To:        s.Phase(),
			At:        s.UpdatedAt,
		})
	}
}

// Last returns the most recently published state for uniqueID.
func (p *Publisher) Last(uniqueID string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.last[uniqueID]
	return s, ok
}

func (p *Publisher) publishMQTT(s State) {
	if p.mqtt == nil {
		return
	}
	if err := p.mqtt.PublishJSON(p.topics.EntityState(s.UniqueID), s, true); err != nil {
		p.logger.Debug("publishing entity state failed", "unique_id", s.UniqueID, "error", err)
	}
	avail := availabilityOffline
	if s.Available {
		avail = availabilityOnline
	}
	if err := p.mqtt.Publish(p.topics.EntityAvailability(s.UniqueID), []byte(avail), availabilityQoS, true); err != nil {
		p.logger.Debug("publishing availability failed", "unique_id", s.UniqueID, "error", err)
	}
}

func (p *Publisher) writeTelemetry(s State, poll coordinator.PollStats, failures int) {
	if p.telemetry == nil {
		return
	}
	var remaining float64
	if s.EndMs != nil && s.Running {
		remaining = time.Until(time.UnixMilli(*s.EndMs)).Seconds()
		if remaining < 0 {
			remaining = 0
		}
	}
	p.telemetry.WriteTimerState(influxdb.TimerSample{
		UniqueID:            s.UniqueID,
		Device:              s.Device,
		Available:           s.Available,
		Running:             s.Running,
		RemainingSeconds:    remaining,
		ConsecutiveFailures: failures,
		At:                  s.UpdatedAt,
	})
	if !poll.At.IsZero() {
		p.telemetry.WritePollResult(s.UniqueID, poll.OK, poll.Latency)
	}
}

func (p *Publisher) recordHistory(ctx context.Context, s State) {
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	if err := p.history.Record(ctx, s); err != nil {
		p.logger.Warn("recording state history failed", "unique_id", s.UniqueID, "error", err)
	}
}

func (p *Publisher) publishEvent(ev StateChangedEvent) {
	p.logger.Info("timer state changed", "entity_id", ev.EntityID, "from", ev.From, "to", ev.To)
	if p.mqtt != nil {
		if err := p.mqtt.PublishJSON(p.topics.Event(ev.EventType), ev, false); err != nil {
			p.logger.Debug("publishing event failed", "entity_id", ev.EntityID, "error", err)
		}
	}
	if p.hub != nil {
		p.hub.Broadcast(ChannelEvent, ev)
	}
}

func stateChanged(a, b State) bool {
	if a.Available != b.Available || a.Running != b.Running {
		return true
	}
	switch {
	case a.EndMs == nil && b.EndMs == nil:
		return false
	case a.EndMs == nil || b.EndMs == nil:
		return true
	default:
		return *a.EndMs != *b.EndMs
	}
}
