package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshp123/plantcare/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(context.Background(), Config{BaseURL: server.URL, RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestFetchLatest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/devices/plant_001/latest" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_id":"plant_001","timestamp":"2026-03-01T08:15:30.123456","temperature":21.5,"humidity":40,"moisture":15,"light":55,"water_detected":true}`))
	})

	reading, err := client.FetchLatest(context.Background(), "plant_001")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reading.Moisture != 15 || reading.Temperature != 21.5 || reading.Light != 55 || !reading.WaterDetected {
		t.Fatalf("unexpected reading: %+v", reading)
	}
	want := time.Date(2026, 3, 1, 8, 15, 30, 123456000, time.UTC)
	if !reading.CapturedAt.Equal(want) {
		t.Fatalf("captured at = %s, want %s", reading.CapturedAt, want)
	}
}

func TestFetchLatestDefaultsTimestamp(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"temperature":20,"moisture":50,"light":40,"water_detected":false}`))
	})
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	reading, err := client.FetchLatest(context.Background(), "plant_001")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !reading.CapturedAt.Equal(fixed) {
		t.Fatalf("expected fetch time, got %s", reading.CapturedAt)
	}
}

func TestFetchLatestErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "no data", status: http.StatusNotFound, body: `{"error":"No data found"}`, want: core.ErrNoData},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, want: core.ErrUnreachable},
		{name: "not json", status: http.StatusOK, body: `<html>`, want: core.ErrMalformed},
		{name: "missing field", status: http.StatusOK, body: `{"temperature":20,"light":40,"water_detected":true}`, want: core.ErrMalformed},
		{name: "out of range", status: http.StatusOK, body: `{"temperature":20,"moisture":140,"light":40,"water_detected":true}`, want: core.ErrMalformed},
		{name: "bad timestamp", status: http.StatusOK, body: `{"timestamp":"yesterday","temperature":20,"moisture":40,"light":40,"water_detected":true}`, want: core.ErrMalformed},
		{name: "other device", status: http.StatusOK, body: `{"device_id":"plant_002","temperature":20,"moisture":40,"light":40,"water_detected":true}`, want: core.ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.FetchLatest(context.Background(), "plant_001")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFetchLatestTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.FetchLatest(ctx, "plant_001")
	if !errors.Is(err, core.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	var transport *core.TransportError
	if !errors.As(err, &transport) || transport.Device != "plant_001" {
		t.Fatalf("expected transport error for plant_001, got %v", err)
	}
}

func TestFetchLatestUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	client, err := NewClient(context.Background(), Config{BaseURL: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.FetchLatest(context.Background(), "plant_001")
	if !errors.Is(err, core.ErrUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestSend(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/devices/plant_001/control" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["action"] != "pump_on" {
			t.Errorf("unexpected action %q", body["action"])
		}
		_, _ = w.Write([]byte(`{"status":"command queued","command_id":42}`))
	})

	ack, err := client.Send(context.Background(), "plant_001", core.ActionPumpOn)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ack.CommandID != "42" || ack.Status != "command queued" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestSendRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"pump offline"}`))
	})

	_, err := client.Send(context.Background(), "plant_001", core.ActionPumpOn)
	if !errors.Is(err, core.ErrRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	var cmdErr *core.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected command error with status, got %v", err)
	}
}

func TestClientAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/devices/plant_001/latest", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"temperature":20,"moisture":50,"light":40,"water_detected":true}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	secretPath := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(secretPath, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	client, err := NewClient(context.Background(), Config{
		BaseURL: server.URL,
		Auth: &AuthConfig{
			TokenURL:         server.URL + "/oauth/token",
			ClientID:         "plantcare",
			ClientSecretFile: secretPath,
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.FetchLatest(context.Background(), "plant_001"); err != nil {
		t.Fatalf("fetch with auth: %v", err)
	}
}
