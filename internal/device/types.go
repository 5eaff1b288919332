package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/plantcare/internal/core"
)

// LatestPayload is the wire form of GET /api/devices/{id}/latest.
type LatestPayload struct {
	DeviceID      string   `json:"device_id"`
	Timestamp     *string  `json:"timestamp"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	Moisture      *float64 `json:"moisture"`
	Light         *float64 `json:"light"`
	WaterDetected *bool    `json:"water_detected"`
}

type controlRequest struct {
	Action string `json:"action"`
}

type controlResponse struct {
	Status    string          `json:"status"`
	CommandID json.RawMessage `json:"command_id"`
	Error     string          `json:"error"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// toReading converts a payload into a validated reading. received is used
// when the device does not stamp its samples.
func (p LatestPayload) toReading(received time.Time) (core.Reading, error) {
	var missing []string
	if p.Moisture == nil {
		missing = append(missing, "moisture")
	}
	if p.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if p.Light == nil {
		missing = append(missing, "light")
	}
	if p.WaterDetected == nil {
		missing = append(missing, "water_detected")
	}
	if len(missing) > 0 {
		return core.Reading{}, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	capturedAt := received
	if p.Timestamp != nil && strings.TrimSpace(*p.Timestamp) != "" {
		parsed, err := parseTimestamp(*p.Timestamp)
		if err != nil {
			return core.Reading{}, err
		}
		capturedAt = parsed
	}

	reading := core.Reading{
		Moisture:      *p.Moisture,
		Temperature:   *p.Temperature,
		Light:         *p.Light,
		WaterDetected: *p.WaterDetected,
		CapturedAt:    capturedAt,
	}
	if err := core.ValidateReading(reading); err != nil {
		return core.Reading{}, err
	}
	return reading, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func (r controlResponse) commandID() string {
	return strings.Trim(strings.TrimSpace(string(r.CommandID)), `"`)
}
