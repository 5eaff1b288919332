package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joshp123/plantcare/internal/core"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("schema_version: 1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Core.HTTPAddr != DefaultHTTPAddr || cfg.Core.GRPCAddr != DefaultGRPCAddr {
		t.Fatalf("unexpected core defaults: %+v", cfg.Core)
	}
	if cfg.Poll.Interval != DefaultPollInterval || cfg.Poll.FetchTimeout != DefaultFetchTimeout {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Poll)
	}
	th := cfg.CoreThresholds()
	if th.MoistureCritical != 20 || th.MoistureLow != 40 || th.Cooldown != time.Hour {
		t.Fatalf("unexpected thresholds: %+v", th)
	}
	if !cfg.AutoWater() {
		t.Fatalf("auto water should default to on")
	}

	entries := cfg.FleetEntries(time.Now())
	if len(entries) != 4 || entries[0].ID != "plant_001" || entries[0].Origin != core.OriginLive {
		t.Fatalf("expected live plant first then seeds, got %+v", entries)
	}
	if entries[1].Name != "Desert Rose" || entries[1].Reading == nil || entries[1].Reading.Moisture != 25 {
		t.Fatalf("unexpected first seed: %+v", entries[1])
	}
}

func TestParseFull(t *testing.T) {
	data := `
schema_version: 1
device:
  base_url: http://plants.local:5000
  transport: mqtt
  mqtt:
    broker: tcp://broker.local:1883
poll:
  interval: 10s
  fetch_timeout: 3s
thresholds:
  moisture_critical: 0
  moisture_low: 35
  cooldown: 30m
automation:
  auto_water: false
plants:
  - id: balcony_fern
    device_id: esp32_a1
seeds: []
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Poll.Interval != 10*time.Second || cfg.Poll.FetchTimeout != 3*time.Second {
		t.Fatalf("unexpected poll config: %+v", cfg.Poll)
	}
	if *cfg.Thresholds.MoistureCritical != 0 {
		t.Fatalf("explicit zero threshold was replaced by default")
	}
	if cfg.AutoWater() {
		t.Fatalf("auto water should be off")
	}
	if cfg.Device.MQTT.TopicPrefix != DefaultMQTTPrefix {
		t.Fatalf("unexpected mqtt prefix %q", cfg.Device.MQTT.TopicPrefix)
	}
	if len(cfg.Seeds) != 0 || len(cfg.Plants) != 1 || cfg.Plants[0].Name != "balcony_fern" {
		t.Fatalf("unexpected plants: %+v seeds: %+v", cfg.Plants, cfg.Seeds)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"schema":          "schema_version: 2\n",
		"threshold order": "schema_version: 1\nthresholds:\n  moisture_critical: 50\n  moisture_low: 40\n",
		"light order":     "schema_version: 1\nthresholds:\n  light_low: 80\n  light_high: 60\n",
		"fetch timeout":   "schema_version: 1\npoll:\n  interval: 2s\n  fetch_timeout: 2s\n",
		"transport":       "schema_version: 1\ndevice:\n  transport: carrier_pigeon\n",
		"mqtt broker":     "schema_version: 1\ndevice:\n  transport: mqtt\n",
		"bad id":          "schema_version: 1\nplants:\n  - id: Plant-1\n",
		"duplicate id":    "schema_version: 1\nplants:\n  - id: mock_1\n",
		"seed range":      "schema_version: 1\nseeds:\n  - id: odd_seed\n    moisture: 140\n",
		"shared device":   "schema_version: 1\nplants:\n  - id: plant_a\n    device_id: esp\n  - id: plant_b\n    device_id: esp\n",
		"no plants":       "schema_version: 1\nplants: []\nseeds: []\n",
		"archive":         "schema_version: 1\narchive:\n  endpoint: http://minio:9000\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("PLANTCARE_POLL_INTERVAL", "30s")
	t.Setenv("PLANTCARE_MOISTURE_LOW", "45")
	t.Setenv("PLANTCARE_AUTO_WATER", "false")
	t.Setenv("PLANTCARE_DEVICE_IDS", "plant_001, plant_002")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poll.Interval != 30*time.Second {
		t.Fatalf("interval = %s", cfg.Poll.Interval)
	}
	if *cfg.Thresholds.MoistureLow != 45 || cfg.AutoWater() {
		t.Fatalf("env overrides not applied: %+v", cfg.Thresholds)
	}
	if len(cfg.Plants) != 2 || cfg.Plants[1].DeviceID != "plant_002" {
		t.Fatalf("unexpected plants: %+v", cfg.Plants)
	}
}

func TestLoadFileAndBadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("schema_version: 1\ncore:\n  http_addr: 127.0.0.1:8081\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Core.HTTPAddr != "127.0.0.1:8081" {
		t.Fatalf("http addr = %s", cfg.Core.HTTPAddr)
	}

	t.Setenv("PLANTCARE_COOLDOWN", "an hour")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "PLANTCARE_COOLDOWN") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}
