package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDashboardsMapAndWrite(t *testing.T) {
	dashboards := []Dashboard{
		{Name: "fleet-overview", JSON: []byte(`{"title":"Fleet"}`)},
		{Name: "devices", JSON: []byte(`{"title":"Devices"}`)},
	}

	m := DashboardsMap("plantcare", dashboards)
	if len(m) != 2 || string(m["/dashboards/plantcare/devices.json"]) != `{"title":"Devices"}` {
		t.Fatalf("unexpected map %v", m)
	}

	if err := WriteDashboards("", "plantcare", dashboards); err != nil {
		t.Fatalf("empty dir should be a no-op: %v", err)
	}
	dir := t.TempDir()
	if err := WriteDashboards(dir, "plantcare", dashboards); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "plantcare", "fleet-overview.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"title":"Fleet"}` {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestMetricsRegistry(t *testing.T) {
	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_a_total", Help: "a"})
	b := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_b", Help: "b"})
	registry := MetricsRegistry([]prometheus.Collector{a}, []prometheus.Collector{b})
	a.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("expected 2 metric families, got %d", len(families))
	}
}
