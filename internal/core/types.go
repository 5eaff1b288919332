package core

import "time"

// Status is the derived health classification of a plant.
type Status string

const (
	StatusHealthy        Status = "healthy"
	StatusNeedsAttention Status = "needs-attention"
	StatusCritical       Status = "critical"
)

// Origin tells whether a plant is backed by a polled device or by seed data.
type Origin string

const (
	OriginLive Origin = "live"
	OriginSeed Origin = "seed"
)

// Reading is one sample from one device. Values are immutable once produced.
type Reading struct {
	Moisture      float64   `json:"moisture"`
	Temperature   float64   `json:"temperature"`
	Light         float64   `json:"light"`
	WaterDetected bool      `json:"water_detected"`
	CapturedAt    time.Time `json:"timestamp"`
}

// PlantRecord is one monitored plant as published in a fleet snapshot.
type PlantRecord struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Species           string     `json:"species,omitempty"`
	DeviceID          string     `json:"device_id,omitempty"`
	Origin            Origin     `json:"origin"`
	Reading           *Reading   `json:"reading"`
	LastWatered       *time.Time `json:"last_watered"`
	Status            Status     `json:"status"`
	Advisories        []string   `json:"advisories,omitempty"`
	Degraded          bool       `json:"degraded"`
	LastError         string     `json:"last_error,omitempty"`
	LastFetchAt       time.Time  `json:"last_fetch_at,omitzero"`
	WaterMissingSince time.Time  `json:"water_missing_since,omitzero"`
}

// Live reports whether the plant is polled from a device.
func (p PlantRecord) Live() bool {
	return p.Origin == OriginLive && p.DeviceID != ""
}

// Thresholds drives classification and automation. It is fixed for a run.
type Thresholds struct {
	MoistureCritical float64
	MoistureLow      float64
	LightLow         float64
	LightHigh        float64
	WaterGrace       time.Duration
	PollInterval     time.Duration
	Cooldown         time.Duration
}

// Action is a discrete control command understood by the device.
type Action string

const (
	ActionPumpOn   Action = "pump_on"
	ActionPumpOff  Action = "pump_off"
	ActionLightOn  Action = "light_on"
	ActionLightOff Action = "light_off"
)

// Ack is the device acknowledgment of a dispatched command.
type Ack struct {
	CommandID string    `json:"command_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}
