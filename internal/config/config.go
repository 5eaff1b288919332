package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
)

const (
	SchemaVersion          = 1
	DefaultPath            = "/etc/plantcare/config.yaml"
	DefaultGRPCAddr        = "0.0.0.0:9000"
	DefaultHTTPAddr        = "0.0.0.0:8080"
	DefaultBaseURL         = "http://localhost:5000"
	DefaultPollInterval    = 5 * time.Second
	DefaultFetchTimeout    = 4 * time.Second
	DefaultDispatchTimeout = 10 * time.Second
	DefaultPendingTimeout  = 2 * time.Minute
	DefaultCooldown        = time.Hour
	DefaultWaterGrace      = 30 * time.Minute
	DefaultArchivePrefix   = "plantcare"
	DefaultArchiveEvery    = time.Hour
	DefaultMQTTPrefix      = "plantcare/devices"

	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

type Config struct {
	SchemaVersion int              `yaml:"schema_version"`
	Core          CoreConfig       `yaml:"core"`
	Device        DeviceConfig     `yaml:"device"`
	Poll          PollConfig       `yaml:"poll"`
	Thresholds    ThresholdsConfig `yaml:"thresholds"`
	Automation    AutomationConfig `yaml:"automation"`
	Plants        []PlantConfig    `yaml:"plants"`
	Seeds         []SeedConfig     `yaml:"seeds"`
	History       *HistoryConfig   `yaml:"history"`
	Archive       *ArchiveConfig   `yaml:"archive"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

type DeviceConfig struct {
	BaseURL              string        `yaml:"base_url"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute"`
	Transport            string        `yaml:"transport"`
	MQTT                 *MQTTConfig   `yaml:"mqtt"`
	Auth                 *AuthConfig   `yaml:"auth"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	TopicPrefix  string `yaml:"topic_prefix"`
	ClientID     string `yaml:"client_id"`
}

type AuthConfig struct {
	TokenURL         string   `yaml:"token_url"`
	ClientID         string   `yaml:"client_id"`
	ClientSecretFile string   `yaml:"client_secret_file"`
	Scopes           []string `yaml:"scopes"`
}

type PollConfig struct {
	Interval             time.Duration `yaml:"interval"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	DispatchTimeout      time.Duration `yaml:"dispatch_timeout"`
	PendingTimeout       time.Duration `yaml:"pending_timeout"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
}

// ThresholdsConfig uses pointers so an explicit zero is not mistaken for unset.
type ThresholdsConfig struct {
	MoistureCritical *float64      `yaml:"moisture_critical"`
	MoistureLow      *float64      `yaml:"moisture_low"`
	LightLow         *float64      `yaml:"light_low"`
	LightHigh        *float64      `yaml:"light_high"`
	WaterGrace       time.Duration `yaml:"water_grace"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type AutomationConfig struct {
	AutoWater *bool `yaml:"auto_water"`
}

type PlantConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Species  string `yaml:"species"`
	DeviceID string `yaml:"device_id"`
}

type SeedConfig struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Species       string  `yaml:"species"`
	Moisture      float64 `yaml:"moisture"`
	Temperature   float64 `yaml:"temperature"`
	Light         float64 `yaml:"light"`
	WaterDetected *bool   `yaml:"water_detected"`
}

type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

type ArchiveConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	Region        string        `yaml:"region"`
	AccessKeyFile string        `yaml:"access_key_file"`
	SecretKeyFile string        `yaml:"secret_key_file"`
	Every         time.Duration `yaml:"every"`
}

// Load parses the YAML config file, applies environment overrides and
// defaults, and validates. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg.SchemaVersion = SchemaVersion
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}

	if cfg.Device.BaseURL == "" {
		cfg.Device.BaseURL = DefaultBaseURL
	}
	if cfg.Device.Transport == "" {
		cfg.Device.Transport = TransportHTTP
	}
	if cfg.Device.MQTT != nil && cfg.Device.MQTT.TopicPrefix == "" {
		cfg.Device.MQTT.TopicPrefix = DefaultMQTTPrefix
	}

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = DefaultPollInterval
	}
	if cfg.Poll.FetchTimeout == 0 {
		cfg.Poll.FetchTimeout = min(DefaultFetchTimeout, cfg.Poll.Interval*4/5)
	}
	if cfg.Poll.DispatchTimeout == 0 {
		cfg.Poll.DispatchTimeout = DefaultDispatchTimeout
	}
	if cfg.Poll.PendingTimeout == 0 {
		cfg.Poll.PendingTimeout = max(DefaultPendingTimeout, 2*cfg.Poll.DispatchTimeout)
	}
	if cfg.Device.RequestTimeout == 0 {
		cfg.Device.RequestTimeout = max(cfg.Poll.FetchTimeout, cfg.Poll.DispatchTimeout)
	}

	th := &cfg.Thresholds
	if th.MoistureCritical == nil {
		th.MoistureCritical = float64Ptr(20)
	}
	if th.MoistureLow == nil {
		th.MoistureLow = float64Ptr(40)
	}
	if th.LightLow == nil {
		th.LightLow = float64Ptr(20)
	}
	if th.LightHigh == nil {
		th.LightHigh = float64Ptr(90)
	}
	if th.WaterGrace == 0 {
		th.WaterGrace = DefaultWaterGrace
	}
	if th.Cooldown == 0 {
		th.Cooldown = DefaultCooldown
	}

	if cfg.Automation.AutoWater == nil {
		cfg.Automation.AutoWater = boolPtr(true)
	}

	if cfg.Plants == nil {
		cfg.Plants = []PlantConfig{{ID: "plant_001", Name: "Monstera Deliciosa", Species: "Monstera", DeviceID: "plant_001"}}
	}
	for i := range cfg.Plants {
		if cfg.Plants[i].DeviceID == "" {
			cfg.Plants[i].DeviceID = cfg.Plants[i].ID
		}
		if cfg.Plants[i].Name == "" {
			cfg.Plants[i].Name = cfg.Plants[i].ID
		}
	}
	if cfg.Seeds == nil {
		cfg.Seeds = DefaultSeeds()
	}
	for i := range cfg.Seeds {
		if cfg.Seeds[i].WaterDetected == nil {
			cfg.Seeds[i].WaterDetected = boolPtr(true)
		}
	}

	if cfg.Archive != nil {
		if cfg.Archive.Prefix == "" {
			cfg.Archive.Prefix = DefaultArchivePrefix
		}
		if cfg.Archive.Every == 0 {
			cfg.Archive.Every = DefaultArchiveEvery
		}
	}
}

// DefaultSeeds is the baseline set shown next to live plants.
func DefaultSeeds() []SeedConfig {
	return []SeedConfig{
		{ID: "mock_1", Name: "Desert Rose", Species: "Adenium obesum", Moisture: 25, Temperature: 75, Light: 92},
		{ID: "mock_2", Name: "Snake Plant", Species: "Sansevieria", Moisture: 45, Temperature: 70, Light: 65},
		{ID: "mock_3", Name: "Fiddle Leaf Fig", Species: "Ficus lyrata", Moisture: 68, Temperature: 73, Light: 78},
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if len(cfg.Plants)+len(cfg.Seeds) == 0 {
		return fmt.Errorf("at least one plant or seed is required")
	}
	ids := make([]string, 0, len(cfg.Plants)+len(cfg.Seeds))
	devices := make(map[string]string, len(cfg.Plants))
	for _, p := range cfg.Plants {
		ids = append(ids, p.ID)
		if p.DeviceID == "" {
			return fmt.Errorf("plants.%s.device_id is required", p.ID)
		}
		if other, ok := devices[p.DeviceID]; ok {
			return fmt.Errorf("plants.%s: device %s already used by %s", p.ID, p.DeviceID, other)
		}
		devices[p.DeviceID] = p.ID
	}
	for _, s := range cfg.Seeds {
		ids = append(ids, s.ID)
		r := core.Reading{Moisture: s.Moisture, Temperature: s.Temperature, Light: s.Light, CapturedAt: time.Unix(0, 0)}
		if err := core.ValidateReading(r); err != nil {
			return fmt.Errorf("seeds.%s: %w", s.ID, err)
		}
	}
	if err := core.ValidateIDs(ids); err != nil {
		return err
	}

	if len(cfg.Plants) > 0 && cfg.Device.BaseURL == "" {
		return fmt.Errorf("device.base_url is required")
	}
	switch cfg.Device.Transport {
	case TransportHTTP:
	case TransportMQTT:
		if cfg.Device.MQTT == nil || cfg.Device.MQTT.Broker == "" {
			return fmt.Errorf("device.mqtt.broker is required for mqtt transport")
		}
	default:
		return fmt.Errorf("device.transport must be %q or %q", TransportHTTP, TransportMQTT)
	}
	if cfg.Device.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("device.max_requests_per_minute must be >= 0")
	}
	if a := cfg.Device.Auth; a != nil {
		if a.TokenURL == "" || a.ClientID == "" || a.ClientSecretFile == "" {
			return fmt.Errorf("device.auth requires token_url, client_id and client_secret_file")
		}
	}

	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0")
	}
	if cfg.Poll.FetchTimeout <= 0 || cfg.Poll.FetchTimeout >= cfg.Poll.Interval {
		return fmt.Errorf("poll.fetch_timeout must be > 0 and shorter than poll.interval")
	}
	if cfg.Poll.DispatchTimeout <= 0 {
		return fmt.Errorf("poll.dispatch_timeout must be > 0")
	}
	if cfg.Poll.PendingTimeout < cfg.Poll.DispatchTimeout {
		return fmt.Errorf("poll.pending_timeout must be >= poll.dispatch_timeout")
	}

	th := cfg.Thresholds
	if th.MoistureCritical == nil || th.MoistureLow == nil || th.LightLow == nil || th.LightHigh == nil {
		return fmt.Errorf("thresholds are required")
	}
	if *th.MoistureCritical < 0 || *th.MoistureCritical >= *th.MoistureLow || *th.MoistureLow > 100 {
		return fmt.Errorf("thresholds must satisfy 0 <= moisture_critical < moisture_low <= 100")
	}
	if *th.LightLow > *th.LightHigh {
		return fmt.Errorf("thresholds.light_low must be <= thresholds.light_high")
	}
	if th.Cooldown < 0 {
		return fmt.Errorf("thresholds.cooldown must be >= 0")
	}
	if th.WaterGrace < 0 {
		return fmt.Errorf("thresholds.water_grace must be >= 0")
	}

	if cfg.History != nil && cfg.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if a := cfg.Archive; a != nil {
		if a.Endpoint == "" {
			return fmt.Errorf("archive.endpoint is required")
		}
		if a.Bucket == "" {
			return fmt.Errorf("archive.bucket is required")
		}
		if a.AccessKeyFile == "" {
			return fmt.Errorf("archive.access_key_file is required")
		}
		if a.SecretKeyFile == "" {
			return fmt.Errorf("archive.secret_key_file is required")
		}
	}
	return nil
}

// CoreThresholds converts the validated thresholds for the domain packages.
func (c *Config) CoreThresholds() core.Thresholds {
	return core.Thresholds{
		MoistureCritical: *c.Thresholds.MoistureCritical,
		MoistureLow:      *c.Thresholds.MoistureLow,
		LightLow:         *c.Thresholds.LightLow,
		LightHigh:        *c.Thresholds.LightHigh,
		WaterGrace:       c.Thresholds.WaterGrace,
		PollInterval:     c.Poll.Interval,
		Cooldown:         c.Thresholds.Cooldown,
	}
}

// FleetEntries lists live plants first, then seeds, in configured order.
func (c *Config) FleetEntries(now time.Time) []fleet.Entry {
	entries := make([]fleet.Entry, 0, len(c.Plants)+len(c.Seeds))
	for _, p := range c.Plants {
		entries = append(entries, fleet.Entry{ID: p.ID, Name: p.Name, Species: p.Species, DeviceID: p.DeviceID, Origin: core.OriginLive})
	}
	for _, s := range c.Seeds {
		water := s.WaterDetected == nil || *s.WaterDetected
		entries = append(entries, fleet.Entry{
			ID:      s.ID,
			Name:    s.Name,
			Species: s.Species,
			Origin:  core.OriginSeed,
			Reading: &core.Reading{Moisture: s.Moisture, Temperature: s.Temperature, Light: s.Light, WaterDetected: water, CapturedAt: now},
		})
	}
	return entries
}

// AutoWater reports whether automatic watering is enabled.
func (c *Config) AutoWater() bool {
	return c.Automation.AutoWater == nil || *c.Automation.AutoWater
}

// applyEnv overrides file values with PLANTCARE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst **float64) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = &f
		return nil
	}

	str("PLANTCARE_GRPC_ADDR", &cfg.Core.GRPCAddr)
	str("PLANTCARE_HTTP_ADDR", &cfg.Core.HTTPAddr)
	str("PLANTCARE_DASHBOARD_DIR", &cfg.Core.DashboardDir)
	str("PLANTCARE_BASE_URL", &cfg.Device.BaseURL)
	str("PLANTCARE_TRANSPORT", &cfg.Device.Transport)
	if v, ok := lookup("PLANTCARE_MQTT_BROKER"); ok && v != "" {
		if cfg.Device.MQTT == nil {
			cfg.Device.MQTT = &MQTTConfig{}
		}
		cfg.Device.MQTT.Broker = strings.TrimSpace(v)
	}
	if v, ok := lookup("PLANTCARE_DEVICE_IDS"); ok && strings.TrimSpace(v) != "" {
		cfg.Plants = cfg.Plants[:0:0]
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			cfg.Plants = append(cfg.Plants, PlantConfig{ID: id, DeviceID: id})
		}
	}
	if v, ok := lookup("PLANTCARE_HISTORY_PATH"); ok && v != "" {
		if cfg.History == nil {
			cfg.History = &HistoryConfig{}
		}
		cfg.History.Path = strings.TrimSpace(v)
	}

	for key, dst := range map[string]*time.Duration{
		"PLANTCARE_POLL_INTERVAL":    &cfg.Poll.Interval,
		"PLANTCARE_FETCH_TIMEOUT":    &cfg.Poll.FetchTimeout,
		"PLANTCARE_DISPATCH_TIMEOUT": &cfg.Poll.DispatchTimeout,
		"PLANTCARE_COOLDOWN":         &cfg.Thresholds.Cooldown,
		"PLANTCARE_WATER_GRACE":      &cfg.Thresholds.WaterGrace,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]**float64{
		"PLANTCARE_MOISTURE_CRITICAL": &cfg.Thresholds.MoistureCritical,
		"PLANTCARE_MOISTURE_LOW":      &cfg.Thresholds.MoistureLow,
		"PLANTCARE_LIGHT_LOW":         &cfg.Thresholds.LightLow,
		"PLANTCARE_LIGHT_HIGH":        &cfg.Thresholds.LightHigh,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup("PLANTCARE_AUTO_WATER"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PLANTCARE_AUTO_WATER: %w", err)
		}
		cfg.Automation.AutoWater = &b
	}
	return nil
}

func float64Ptr(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }
