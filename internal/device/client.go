package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/rate"
)

const (
	requestTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config defines the device backend endpoint.
type Config struct {
	BaseURL string
	// RequestTimeout is a hard cap on any single request. Callers still bound
	// each call with their own context deadline.
	RequestTimeout       time.Duration
	MaxRequestsPerMinute int
	Auth                 *AuthConfig
}

// Client talks to the device telemetry and control API. It performs exactly
// one round trip per call and never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("device base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("device base_url: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	if cfg.MaxRequestsPerMinute > 0 {
		decl := rate.Provider("device").MaxRequestsPer(rate.Minute, cfg.MaxRequestsPerMinute)
		httpClient = rate.WrapHTTP(decl, httpClient)
	}
	if cfg.Auth != nil {
		authed, err := cfg.Auth.wrap(ctx, httpClient)
		if err != nil {
			return nil, err
		}
		httpClient = authed
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// FetchLatest returns the most recent reading reported for a device.
func (c *Client) FetchLatest(ctx context.Context, deviceID string) (core.Reading, error) {
	start := time.Now()
	reading, err := c.fetchLatest(ctx, deviceID)
	observe("fetch", start, err)
	return reading, err
}

func (c *Client) fetchLatest(ctx context.Context, deviceID string) (core.Reading, error) {
	status, payload, err := c.do(ctx, http.MethodGet, "/api/devices/"+url.PathEscape(deviceID)+"/latest", nil)
	if err != nil {
		return core.Reading{}, &core.TransportError{Device: deviceID, Op: "fetch", Err: core.TransportKind(err), Cause: err}
	}

	switch {
	case status == http.StatusNotFound:
		return core.Reading{}, &core.DataError{Device: deviceID, Reason: "device has not reported yet", Err: core.ErrNoData}
	case status < 200 || status >= 300:
		cause := fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(payload)))
		return core.Reading{}, &core.TransportError{Device: deviceID, Op: "fetch", Err: core.ErrUnreachable, Cause: cause}
	}

	var latest LatestPayload
	if err := json.Unmarshal(payload, &latest); err != nil {
		return core.Reading{}, &core.DataError{Device: deviceID, Reason: "decode: " + err.Error(), Err: core.ErrMalformed}
	}
	if latest.DeviceID != "" && latest.DeviceID != deviceID {
		return core.Reading{}, &core.DataError{Device: deviceID, Reason: fmt.Sprintf("payload for device %q", latest.DeviceID), Err: core.ErrMalformed}
	}
	reading, err := latest.toReading(c.now())
	if err != nil {
		return core.Reading{}, &core.DataError{Device: deviceID, Reason: err.Error(), Err: core.ErrMalformed}
	}
	return reading, nil
}

// Send posts one control action to a device.
func (c *Client) Send(ctx context.Context, deviceID string, action core.Action) (core.Ack, error) {
	start := time.Now()
	ack, err := c.send(ctx, deviceID, action)
	observe("send", start, err)
	return ack, err
}

func (c *Client) send(ctx context.Context, deviceID string, action core.Action) (core.Ack, error) {
	body, err := json.Marshal(controlRequest{Action: string(action)})
	if err != nil {
		return core.Ack{}, err
	}

	status, payload, err := c.do(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(deviceID)+"/control", body)
	if err != nil {
		return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, Err: core.TransportKind(err), Cause: err}
	}

	var resp controlResponse
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &resp); err != nil && status >= 200 && status < 300 {
			return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, StatusCode: status, Err: core.ErrRejected, Cause: fmt.Errorf("decode ack: %w", err)}
		}
	}
	if status < 200 || status >= 300 {
		reason := resp.Error
		if reason == "" {
			reason = strings.TrimSpace(string(payload))
		}
		return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, StatusCode: status, Err: core.ErrRejected, Cause: errors.New(reason)}
	}

	return core.Ack{CommandID: resp.commandID(), Status: resp.Status, At: c.now()}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return 0, nil, fmt.Errorf("build url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", endpoint, err)
	}
	return resp.StatusCode, payload, nil
}
