package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/timerly-core/internal/device"
)

// Device endpoints.
const (
	EndpointTimer    = "timer"
	EndpointCancel   = "cancel"
	EndpointDoorbell = "doorbell"
	EndpointAlert    = "alert"
)

const (
	// DefaultTimeout bounds each POST when no timeout is configured.
	DefaultTimeout = 5 * time.Second

	// maxConcurrent limits simultaneous POSTs during fan-out.
	maxConcurrent = 8

	maxResponseBody = 64 << 10
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

// Client posts commands to displays.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  Logger
}

// NewClient creates a Client. A nil httpClient gets a dedicated transport;
// a non-positive timeout uses DefaultTimeout.
func NewClient(httpClient *http.Client, timeout time.Duration, logger Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{http: httpClient, timeout: timeout, logger: logger}
}

// Post sends payload as JSON to one display.
func (c *Client) Post(ctx context.Context, dev device.Device, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dev.URL(endpoint), bytes.NewReader(body))
	if err != nil {
		return &DeviceError{Device: dev.Name, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &DeviceError{Device: dev.Name, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // response body is drained below
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode != http.StatusOK {
		return &DeviceError{Device: dev.Name, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	c.logger.Debug("command sent", "device", dev.Name, "endpoint", endpoint)
	return nil
}

// PostAll sends payload to every device concurrently. It waits for all
// POSTs and returns their failures joined; one display failing does not
// stop the others.
func (c *Client) PostAll(ctx context.Context, devs []device.Device, endpoint string, payload any) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(maxConcurrent)

	for _, dev := range devs {
		g.Go(func() error {
			if err := c.Post(ctx, dev, endpoint, payload); err != nil {
				c.logger.Error("command failed", "device", dev.Name, "endpoint", endpoint, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
