package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/timerly-core/internal/infrastructure/mqtt"
)

const (
	announceQoS        = 1
	subscribeMaxElapse = 2 * time.Minute
)

// Subscriber is the part of the MQTT client the source uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTSource turns announcements on timerly/discovery/announce into events:
//
//	{"event":"added","name":"Timerly Kitchen","address":"10.0.0.5","port":8181}
//	{"event":"removed","name":"Timerly Kitchen"}
type MQTTSource struct {
	client Subscriber
	topic  string
	logger Logger
}

// NewMQTTSource creates an MQTT announcement source.
func NewMQTTSource(client Subscriber, logger Logger) *MQTTSource {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSource{
		client: client,
		topic:  mqtt.Topics{}.DiscoveryAnnounce(),
		logger: logger,
	}
}

// Name implements Source.
func (s *MQTTSource) Name() string { return "mqtt" }

// Run subscribes, retrying with backoff, and unsubscribes when ctx is done.
func (s *MQTTSource) Run(ctx context.Context, emit func(Event)) error {
	handler := func(_ string, payload []byte) error {
		ev, err := ParseAnnouncement(payload)
		if err != nil {
			return err
		}
		ev.Source = s.Name()
		emit(ev)
		return nil
	}

	operation := func() (struct{}, error) {
		if err := s.client.Subscribe(s.topic, announceQoS, handler); err != nil {
			s.logger.Warn("subscribing to discovery announcements failed", "topic", s.topic, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(subscribeMaxElapse)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	s.logger.Info("listening for discovery announcements", "topic", s.topic)

	<-ctx.Done()
	if err := s.client.Unsubscribe(s.topic); err != nil {
		s.logger.Debug("unsubscribe on shutdown failed", "topic", s.topic, "error", err)
	}
	return nil
}

// ParseAnnouncement decodes and validates an announcement payload.
func ParseAnnouncement(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
