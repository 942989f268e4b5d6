package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
)

// testConfig targets a local Mosquitto broker. Broker tests skip when
// nothing listens on 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "timerly-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func skipIfNoBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "timerly/system/status"},
		{"entity state", topics.EntityState("timerly_office_tv"), "timerly/state/timerly_office_tv"},
		{"availability", topics.EntityAvailability("timerly_office_tv"), "timerly/availability/timerly_office_tv"},
		{"event", topics.Event("timerly_timer_state_changed"), "timerly/event/timerly_timer_state_changed"},
		{"command", topics.Command("start_timer"), "timerly/command/start_timer"},
		{"all commands", topics.AllCommands(), "timerly/command/+"},
		{"announce", topics.DiscoveryAnnounce(), "timerly/discovery/announce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"timerly/command/start_timer", "start_timer", true},
		{"timerly/command/cancel_all", "cancel_all", true},
		{"timerly/command/", "", false},
		{"timerly/command/a/b", "", false},
		{"timerly/state/x", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := Topics{}.ParseCommand(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseCommand(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "timerly", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "timerly" {
		t.Errorf("Username = %q, want timerly", opts.Username)
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" || opts.TLSConfig == nil {
		t.Errorf("TLS options not applied: scheme %q", opts.Servers[0].Scheme)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("offline", "timerly-core", "graceful_shutdown"), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "timerly-core" || p.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339", p.Timestamp)
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("timerly/x", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := c.Publish("timerly/x", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v, want ErrPublishFailed", err)
	}
	if err := c.Publish("timerly/x", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("timerly/x", make(chan int), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("unencodable payload error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("timerly/#", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 5 error = %v", err)
	}
	if err := c.Subscribe("timerly/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("timerly/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.HasSubscription("timerly/#") {
		t.Error("failed subscription was tracked")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{}, 1)
	err = client.Subscribe(Topics{}.AllCommands(), 1, func(topic string, _ []byte) error {
		mu.Lock()
		received = append(received, topic)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllCommands()) {
		t.Error("subscription not tracked")
	}

	if err := client.PublishJSON(Topics{}.Command("refresh_all"), map[string]any{}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0] != "timerly/command/refresh_all" {
		t.Errorf("received topic %q", received[0])
	}

	if err := client.Unsubscribe(Topics{}.AllCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	logger := &mockLogger{}
	client.SetLogger(logger)

	done := make(chan struct{})
	topic := Topics{}.Event("panic_test")
	err = client.Subscribe(topic, 1, func(string, []byte) error {
		defer close(done)
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish(topic, []byte("{}"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if logger.errorCount() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("panic was not logged")
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(string, ...any) {}

func (l *mockLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
