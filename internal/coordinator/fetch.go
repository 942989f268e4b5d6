package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/timerly-core/internal/device"
)

const (
	// timerPath is the device endpoint reporting the active timer.
	timerPath = "/timer"

	// maxBodySize caps the response body read from a device.
	maxBodySize = 1 << 20
)

// TimerFetcher performs a single poll of a device.
type TimerFetcher interface {
	Fetch(ctx context.Context, dev device.Device) (device.TimerData, error)
}

// HTTPFetcher polls GET /timer over HTTP.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher returns an HTTPFetcher. A nil client uses a dedicated client
// with its own transport so idle connections can be closed on unload.
func NewFetcher(client *http.Client, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPFetcher{client: client, timeout: timeout}
}

// timerResponse is the GET /timer body.
type timerResponse struct {
	Properties device.Properties `json:"properties"`
	EndTime    *int64            `json:"endTime"`
}

// Fetch polls the device once.
//
//	200  available, properties and endTime from the body
//	404  available, idle
//	else *FetchError carrying the status
//
// Transport errors, timeouts and malformed bodies also return *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, dev device.Device) (device.TimerData, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dev.URL(timerPath), nil)
	if err != nil {
		return device.TimerData{}, &FetchError{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return device.TimerData{}, &FetchError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch resp.StatusCode {
	case http.StatusOK:
		var body timerResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
			return device.TimerData{}, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding body: %w", err)}
		}
		return device.TimerData{
			Available:  true,
			Properties: body.Properties,
			EndMs:      body.EndTime,
		}, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return device.IdleData(), nil
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return device.TimerData{}, &FetchError{StatusCode: resp.StatusCode}
	}
}

// CloseIdleConnections releases pooled connections held by the client.
func (f *HTTPFetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}
