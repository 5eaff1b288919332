package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/dashboards"
	"github.com/joshp123/plantcare/internal/fleet"
	"github.com/joshp123/plantcare/internal/rpc"
	"github.com/joshp123/plantcare/internal/server"
	"github.com/joshp123/plantcare/internal/service"
)

type noCommands struct{}

func (noCommands) Submit(context.Context, string, core.Action) (automation.Result, error) {
	return automation.Result{}, core.ErrStopped
}

func newDeps(t *testing.T) Deps {
	t.Helper()
	th := core.Thresholds{MoistureCritical: 20, MoistureLow: 40, LightLow: 20, LightHigh: 90, WaterGrace: time.Hour, PollInterval: time.Minute, Cooldown: time.Hour}
	store, err := fleet.NewStore(th, []fleet.Entry{{ID: "plant_001", Name: "Monstera", DeviceID: "plant_001"}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	engine := automation.NewEngine(automation.Config{Thresholds: th})
	svc := service.New(store, engine, noCommands{}, nil)
	return Deps{
		Service:    svc,
		Store:      store,
		API:        server.NewAPI(svc, nil),
		Stream:     server.NewStream(svc, nil),
		Registry:   core.MetricsRegistry([]prometheus.Collector{fleet.NewMetricsCollector(store)}),
		Dashboards: core.DashboardsMap(dashboards.Group, dashboards.All()),
	}
}

func TestHTTPMuxRoutes(t *testing.T) {
	srv := httptest.NewServer(HTTPMux(newDeps(t)))
	defer srv.Close()

	cases := []struct {
		method string
		path   string
		body   string
		want   int
		substr string
	}{
		{method: http.MethodGet, path: "/health", want: http.StatusOK, substr: `"status":"ok"`},
		{method: http.MethodGet, path: "/api/fleet", want: http.StatusOK, substr: `"plant_001"`},
		{method: http.MethodGet, path: "/metrics", want: http.StatusOK, substr: "plantcare_fleet_plants 1"},
		{method: http.MethodGet, path: "/dashboards/plantcare/fleet-overview.json", want: http.StatusOK, substr: `"plantcare-fleet"`},
		{method: http.MethodPost, path: "/api/plants/plant_001/control", body: `{"action":"pump_on"}`, want: http.StatusServiceUnavailable},
		{method: http.MethodDelete, path: "/api/fleet", want: http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.want, resp.StatusCode, body)
		}
		if tc.substr != "" && !strings.Contains(string(body), tc.substr) {
			t.Fatalf("%s %s: body missing %q: %s", tc.method, tc.path, tc.substr, body)
		}
	}
}

func TestRegisterGRPC(t *testing.T) {
	s := grpc.NewServer()
	RegisterGRPC(s, newDeps(t))
	info := s.GetServiceInfo()
	if _, ok := info[rpc.ServiceName]; !ok {
		t.Fatalf("service %s not registered: %v", rpc.ServiceName, info)
	}
}
