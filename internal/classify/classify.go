// Package classify derives plant health from readings. Everything here is a
// pure function of its arguments.
package classify

import (
	"time"

	"github.com/joshp123/plantcare/internal/core"
)

const (
	AdvisoryLightLow  = "light-low"
	AdvisoryLightHigh = "light-high"
	AdvisoryWater     = "water-missing"
	AdvisoryStale     = "stale"
)

// Classify returns the health status for a reading. waterMissingFor is how long
// the device has continuously reported no water; zero when water is present.
func Classify(r core.Reading, th core.Thresholds, waterMissingFor time.Duration) core.Status {
	if r.Moisture < th.MoistureCritical {
		return core.StatusCritical
	}
	if !r.WaterDetected && waterMissingFor > th.WaterGrace {
		return core.StatusCritical
	}
	if r.Moisture < th.MoistureLow {
		return core.StatusNeedsAttention
	}
	return core.StatusHealthy
}

// LowMoisture reports whether the reading is below the watering threshold.
func LowMoisture(r core.Reading, th core.Thresholds) bool {
	return r.Moisture < th.MoistureLow
}

// Record classifies a plant record as of now. Plants without a reading need
// attention until the first sample arrives.
func Record(p core.PlantRecord, th core.Thresholds, now time.Time) core.Status {
	if p.Reading == nil {
		return core.StatusNeedsAttention
	}
	var missing time.Duration
	if !p.Reading.WaterDetected && !p.WaterMissingSince.IsZero() {
		missing = now.Sub(p.WaterMissingSince)
	}
	return Classify(*p.Reading, th, missing)
}

// Advisories lists non-binding observations for display.
func Advisories(p core.PlantRecord, th core.Thresholds) []string {
	var out []string
	if p.Reading != nil {
		if p.Reading.Light < th.LightLow {
			out = append(out, AdvisoryLightLow)
		}
		if p.Reading.Light > th.LightHigh {
			out = append(out, AdvisoryLightHigh)
		}
		if !p.Reading.WaterDetected {
			out = append(out, AdvisoryWater)
		}
	}
	if p.Degraded {
		out = append(out, AdvisoryStale)
	}
	return out
}
