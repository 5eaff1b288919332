package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
	"github.com/joshp123/plantcare/internal/service"
)

type commander struct {
	store  *fleet.Store
	engine *automation.Engine
	err    error
}

func (c *commander) Submit(_ context.Context, plantID string, action core.Action) (automation.Result, error) {
	p, _ := c.store.Working(plantID)
	ticket, err := c.engine.Begin(p, action, automation.OriginManual)
	if err != nil {
		return automation.Result{}, err
	}
	var ack *core.Ack
	if c.err == nil {
		ack = &core.Ack{CommandID: "7", Status: "command queued", At: time.Now()}
	}
	res, _ := c.engine.Complete(ticket, ack, c.err)
	return res, res.Err
}

type fixture struct {
	store  *fleet.Store
	cmd    *commander
	svc    *service.Service
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	th := core.Thresholds{MoistureCritical: 20, MoistureLow: 40, LightLow: 20, LightHigh: 90, WaterGrace: time.Hour, PollInterval: time.Minute, Cooldown: time.Hour}
	store, err := fleet.NewStore(th, []fleet.Entry{
		{ID: "plant_001", Name: "Monstera Deliciosa", DeviceID: "plant_001"},
		{ID: "mock_1", Name: "Desert Rose", Reading: &core.Reading{Moisture: 25, Temperature: 75, Light: 92, WaterDetected: true, CapturedAt: time.Now()}},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	engine := automation.NewEngine(automation.Config{Thresholds: th})
	cmd := &commander{store: store, engine: engine}
	svc := service.New(store, engine, cmd, nil)

	mux := http.NewServeMux()
	NewAPI(svc, nil).Register(mux)
	mux.Handle("/health", HealthHandler(store))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &fixture{store: store, cmd: cmd, svc: svc, server: server}
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestFleetEndpoints(t *testing.T) {
	f := newFixture(t)

	var view service.FleetView
	if code := f.do(t, http.MethodGet, "/api/fleet", "", &view); code != http.StatusOK {
		t.Fatalf("fleet status %d", code)
	}
	if len(view.Plants) != 2 || view.Plants[0].ID != "plant_001" || view.Plants[1].Origin != core.OriginSeed {
		t.Fatalf("unexpected fleet %+v", view)
	}

	var summary service.SummaryView
	if code := f.do(t, http.MethodGet, "/api/fleet/summary", "", &summary); code != http.StatusOK {
		t.Fatalf("summary status %d", code)
	}
	if summary.Total != 2 || summary.MeanMoisture != 25 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	var plant service.PlantView
	if code := f.do(t, http.MethodGet, "/api/plants/mock_1", "", &plant); code != http.StatusOK {
		t.Fatalf("plant status %d", code)
	}
	if plant.Name != "Desert Rose" || plant.Automation.Phase != automation.PhaseIdle {
		t.Fatalf("unexpected plant %+v", plant)
	}

	var body errorBody
	if code := f.do(t, http.MethodGet, "/api/plants/ghost", "", &body); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestLatest(t *testing.T) {
	f := newFixture(t)

	var body errorBody
	if code := f.do(t, http.MethodGet, "/api/devices/plant_001/latest", "", &body); code != http.StatusNotFound || body.Error != "No data found" {
		t.Fatalf("expected no data, got %d %+v", code, body)
	}

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := f.store.Upsert("plant_001", core.Reading{Moisture: 55, Temperature: 22, Light: 60, WaterDetected: true, CapturedAt: at}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.store.Recompute()
	f.store.Commit()

	var latest service.LatestView
	if code := f.do(t, http.MethodGet, "/api/devices/plant_001/latest", "", &latest); code != http.StatusOK {
		t.Fatalf("latest status %d", code)
	}
	if latest.Moisture != 55 || latest.PlantID != "plant_001" || !latest.Timestamp.Equal(at) || latest.Stale {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestControl(t *testing.T) {
	f := newFixture(t)

	var view service.CommandView
	if code := f.do(t, http.MethodPost, "/api/devices/plant_001/control", `{"action":"pump_on"}`, &view); code != http.StatusOK {
		t.Fatalf("control status %d", code)
	}
	if view.Status != "command queued" || view.CommandID != "7" || view.Action != core.ActionPumpOn {
		t.Fatalf("unexpected command %+v", view)
	}

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "empty action", path: "/api/plants/plant_001/control", body: `{}`, want: http.StatusBadRequest},
		{name: "bad json", path: "/api/plants/plant_001/control", body: `{`, want: http.StatusBadRequest},
		{name: "unknown action", path: "/api/plants/plant_001/control", body: `{"action":"dance"}`, want: http.StatusBadRequest},
		{name: "seed plant", path: "/api/plants/mock_1/control", body: `{"action":"pump_on"}`, want: http.StatusConflict},
		{name: "unknown device", path: "/api/devices/ghost/control", body: `{"action":"pump_on"}`, want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			if code := f.do(t, http.MethodPost, tc.path, tc.body, &body); code != tc.want {
				t.Fatalf("expected %d, got %d (%+v)", tc.want, code, body)
			}
			if body.Error == "" {
				t.Fatalf("expected an error message")
			}
		})
	}

	f.cmd.err = &core.CommandError{Device: "plant_001", Action: core.ActionLightOn, StatusCode: 500, Err: core.ErrRejected}
	var body errorBody
	if code := f.do(t, http.MethodPost, "/api/plants/plant_001/control", `{"action":"light_on"}`, &body); code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", code)
	}
	if body.Kind != core.ErrorKind(core.ErrRejected) || body.Command == nil || body.Command.Status != "failed" {
		t.Fatalf("unexpected rejection body %+v", body)
	}

	var list struct {
		PlantID  string            `json:"plant_id"`
		Commands []json.RawMessage `json:"commands"`
	}
	if code := f.do(t, http.MethodGet, "/api/plants/plant_001/commands?limit=5", "", &list); code != http.StatusOK {
		t.Fatalf("commands status %d", code)
	}
	if len(list.Commands) != 1 {
		t.Fatalf("expected last command, got %d", len(list.Commands))
	}
	if code := f.do(t, http.MethodGet, "/api/plants/plant_001/commands?limit=x", "", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var body healthBody
	if code := f.do(t, http.MethodGet, "/health", "", &body); code != http.StatusOK || body.Status != "ok" || body.Plants != 2 {
		t.Fatalf("unexpected health %d %+v", code, body)
	}

	if err := f.store.MarkDegraded("plant_001", &core.TransportError{Device: "plant_001", Op: "fetch", Err: core.ErrUnreachable}); err != nil {
		t.Fatalf("mark degraded: %v", err)
	}
	f.store.Recompute()
	f.store.Commit()
	if code := f.do(t, http.MethodGet, "/health", "", &body); code != http.StatusOK || body.Status != "degraded" || body.Degraded != 1 {
		t.Fatalf("unexpected degraded health %d %+v", code, body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		core.ErrUnknownAction:   http.StatusBadRequest,
		core.ErrCommandInFlight: http.StatusConflict,
		core.ErrCooldown:        http.StatusConflict,
		core.ErrTimeout:         http.StatusGatewayTimeout,
		core.ErrUnreachable:     http.StatusBadGateway,
		core.ErrStopped:         http.StatusServiceUnavailable,
		context.Canceled:        http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}

func TestDashboardsHandler(t *testing.T) {
	h := DashboardsHandler(map[string][]byte{"/dashboards/plantcare/fleet.json": []byte(`{"title":"fleet"}`)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/plantcare/fleet.json", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"title":"fleet"}` {
		t.Fatalf("unexpected dashboard response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dashboards/plantcare/fleet.json", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/other.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamPushesSnapshotsAndCommands(t *testing.T) {
	f := newFixture(t)
	stream := NewStream(f.svc, nil)
	server := httptest.NewServer(stream)
	defer server.Close()
	defer stream.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "snapshot" {
		t.Fatalf("expected initial snapshot, got %q (%v)", msg.Type, err)
	}

	stream.ObserveCommand(automation.Result{
		Ticket:  automation.Ticket{ID: "t1", PlantID: "plant_001", DeviceID: "plant_001", Action: core.ActionPumpOn, Origin: automation.OriginManual},
		Outcome: "ok",
	})
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "command" {
		t.Fatalf("expected command message, got %q (%v)", msg.Type, err)
	}
	var cmd struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(msg.Data, &cmd); err != nil || cmd.ID != "t1" || cmd.Action != "pump_on" {
		t.Fatalf("unexpected command payload %s", msg.Data)
	}

	stream.ObserveCommit(f.store.Snapshot())
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "snapshot" {
		t.Fatalf("expected snapshot message, got %q (%v)", msg.Type, err)
	}
}
