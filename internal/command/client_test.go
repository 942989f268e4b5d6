package command

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/timerly-core/internal/device"
)

// recordingDevice is an httptest display that records POST bodies.
type recordingDevice struct {
	mu     sync.Mutex
	status int
	paths  []string
	bodies []map[string]any
}

func (d *recordingDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	d.mu.Lock()
	d.paths = append(d.paths, r.Method+" "+r.URL.Path)
	d.bodies = append(d.bodies, body)
	status := d.status
	d.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (d *recordingDevice) requests() ([]string, []map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...), append([]map[string]any(nil), d.bodies...)
}

func startDevice(t *testing.T, name string, status int) (*recordingDevice, device.Device) {
	t.Helper()
	rec := &recordingDevice{status: status}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return rec, device.New(name, host, port)
}

func TestClient_Post(t *testing.T) {
	rec, dev := startDevice(t, "Office TV", http.StatusOK)
	c := NewClient(nil, time.Second, nil)
	defer c.CloseIdleConnections()

	if err := c.Post(context.Background(), dev, EndpointDoorbell, DoorbellPayload{Duration: 30, VideoURI: "rtsp://cam"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	paths, bodies := rec.requests()
	if len(paths) != 1 || paths[0] != "POST /doorbell" {
		t.Fatalf("requests = %v", paths)
	}
	if bodies[0]["duration"] != float64(30) || bodies[0]["videoUri"] != "rtsp://cam" {
		t.Errorf("body = %v", bodies[0])
	}
}

func TestClient_PostNon200(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"created is not success", http.StatusCreated},
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, dev := startDevice(t, "Office TV", tt.status)
			err := NewClient(nil, time.Second, nil).Post(context.Background(), dev, EndpointCancel, CancelPayload{})

			var derr *DeviceError
			if !errors.As(err, &derr) {
				t.Fatalf("Post() error = %v, want *DeviceError", err)
			}
			if derr.StatusCode != tt.status || derr.Endpoint != EndpointCancel || derr.Device != "Office TV" {
				t.Errorf("DeviceError = %+v", derr)
			}
		})
	}
}

func TestClient_PostTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	dev := device.New("Slow", host, port)

	err := NewClient(nil, 50*time.Millisecond, nil).Post(context.Background(), dev, EndpointTimer, StartTimerPayload{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Post() error = %v, want deadline exceeded", err)
	}
}

func TestClient_PostAllJoinsFailures(t *testing.T) {
	okRec, okDev := startDevice(t, "Lounge", http.StatusOK)
	_, badDev := startDevice(t, "Hall", http.StatusServiceUnavailable)
	okRec2, okDev2 := startDevice(t, "Study", http.StatusOK)

	err := NewClient(nil, time.Second, nil).PostAll(context.Background(),
		[]device.Device{okDev, badDev, okDev2}, EndpointCancel, CancelPayload{})

	var derr *DeviceError
	if !errors.As(err, &derr) || derr.Device != "Hall" {
		t.Fatalf("PostAll() error = %v, want failure for Hall", err)
	}
	for _, r := range []*recordingDevice{okRec, okRec2} {
		if paths, _ := r.requests(); len(paths) != 1 {
			t.Errorf("healthy device received %d requests, want 1", len(paths))
		}
	}
}

func TestClient_PostAllEmpty(t *testing.T) {
	if err := NewClient(nil, 0, nil).PostAll(context.Background(), nil, EndpointCancel, CancelPayload{}); err != nil {
		t.Errorf("PostAll(nil) error = %v", err)
	}
}

func TestMatchDevices(t *testing.T) {
	devs := []device.Device{
		device.New("Timerly Office TV", "10.0.0.1", 8181),
		device.New("Timerly Kitchen", "10.0.0.2", 8181),
		device.New("Timerly Study", "10.0.0.3", 8181),
	}

	tests := []struct {
		name    string
		targets []string
		want    []string
	}{
		{"no targets selects all", nil, []string{"Office TV", "Kitchen", "Study"}},
		{"entity id", []string{"binary_sensor.office_tv_timer"}, []string{"Office TV"}},
		{"unique id", []string{"timerly_kitchen"}, []string{"Kitchen"}},
		{"name ignores case", []string{"study"}, []string{"Study"}},
		{"mixed", []string{"timerly_study", "binary_sensor.kitchen_timer"}, []string{"Kitchen", "Study"}},
		{"unknown", []string{"binary_sensor.garage_timer"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchDevices(devs, tt.targets)
			if len(got) != len(tt.want) {
				t.Fatalf("MatchDevices() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Errorf("MatchDevices()[%d] = %q, want %q", i, got[i].Name, tt.want[i])
				}
			}
		})
	}
}
