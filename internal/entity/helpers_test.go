package entity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
	"github.com/nerrad567/timerly-core/internal/infrastructure/database"
	"github.com/nerrad567/timerly-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/timerly-core/internal/scheduler"
	_ "github.com/nerrad567/timerly-core/migrations"
)

// stubFetcher returns whatever data/err currently hold.
type stubFetcher struct {
	mu   sync.Mutex
	data device.TimerData
	err  error
}

func (f *stubFetcher) Fetch(context.Context, device.Device) (device.TimerData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, f.err
}

func (f *stubFetcher) set(data device.TimerData, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data, f.err = data, err
}

var errDown = errors.New("connection refused")

// newCoordinator builds a first-refreshed coordinator for name.
func newCoordinator(t *testing.T, name string, f *stubFetcher) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(coordinator.Options{
		Device:  device.New(name, "192.168.10.37", 8181),
		Queue:   scheduler.NewQueue(nil),
		Fetcher: f,
	})
	if err != nil {
		t.Fatalf("coordinator.New() error = %v", err)
	}
	t.Cleanup(c.Stop)
	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	return c
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

type publishedMsg struct {
	Topic    string
	Payload  []byte
	Value    any
	Retained bool
}

type mockMQTT struct {
	mu        sync.Mutex
	published []publishedMsg
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (m *mockMQTT) PublishJSON(topic string, v any, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{Topic: topic, Value: v, Retained: retained})
	return nil
}

func (m *mockMQTT) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.published))
	for _, p := range m.published {
		out = append(out, p.Topic)
	}
	return out
}

func (m *mockMQTT) find(topic string) []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMsg
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type broadcast struct {
	Channel string
	Payload any
}

type mockHub struct {
	mu   sync.Mutex
	msgs []broadcast
}

func (h *mockHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, broadcast{channel, payload})
}

func (h *mockHub) channel(name string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, m := range h.msgs {
		if m.Channel == name {
			out = append(out, m.Payload)
		}
	}
	return out
}

type mockTelemetry struct {
	mu      sync.Mutex
	samples []influxdb.TimerSample
	polls   int
}

func (m *mockTelemetry) WriteTimerState(s influxdb.TimerSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
}

func (m *mockTelemetry) WritePollResult(string, bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
}

type mockHistory struct {
	mu      sync.Mutex
	records []State
}

func (m *mockHistory) Record(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, s)
	return nil
}

func (m *mockHistory) GetHistory(context.Context, string, int) ([]HistoryEntry, error) {
	return nil, nil
}

func (m *mockHistory) Prune(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
