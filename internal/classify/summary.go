package classify

import "github.com/joshp123/plantcare/internal/core"

// Summary holds fleet aggregates derived from one snapshot.
type Summary struct {
	Total           int     `json:"total"`
	Healthy         int     `json:"healthy"`
	NotHealthy      int     `json:"not_healthy"`
	Critical        int     `json:"critical"`
	Degraded        int     `json:"degraded"`
	MoistureSamples int     `json:"moisture_samples"`
	MeanMoisture    float64 `json:"mean_moisture"`
}

// Summarize recomputes aggregates from scratch. Records without a reading are
// left out of the mean; degraded records keep their retained reading.
func Summarize(records []core.PlantRecord) Summary {
	var s Summary
	var sum float64
	for _, p := range records {
		s.Total++
		if p.Status == core.StatusHealthy {
			s.Healthy++
		} else {
			s.NotHealthy++
		}
		if p.Status == core.StatusCritical {
			s.Critical++
		}
		if p.Degraded {
			s.Degraded++
		}
		if p.Reading != nil {
			s.MoistureSamples++
			sum += p.Reading.Moisture
		}
	}
	if s.MoistureSamples > 0 {
		s.MeanMoisture = sum / float64(s.MoistureSamples)
	}
	return s
}
