package fleet

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/plantcare/internal/classify"
	"github.com/joshp123/plantcare/internal/core"
)

// MetricsCollector exports the committed fleet snapshot.
type MetricsCollector struct {
	store *Store

	snapshotVersion prometheus.Gauge
	plantsTotal     prometheus.Gauge
	healthyTotal    prometheus.Gauge
	meanMoisture    prometheus.Gauge

	moisture      *prometheus.GaugeVec
	temperature   *prometheus.GaugeVec
	light         *prometheus.GaugeVec
	waterDetected *prometheus.GaugeVec
	status        *prometheus.GaugeVec
	degraded      *prometheus.GaugeVec
	readingAge    *prometheus.GaugeVec
}

func NewMetricsCollector(store *Store) *MetricsCollector {
	plantLabels := []string{"plant", "origin"}
	return &MetricsCollector{
		store: store,
		snapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plantcare_fleet_snapshot_version",
			Help: "Version of the last committed fleet snapshot",
		}),
		plantsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plantcare_fleet_plants",
			Help: "Number of monitored plants",
		}),
		healthyTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plantcare_fleet_healthy_plants",
			Help: "Number of plants classified healthy",
		}),
		meanMoisture: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plantcare_fleet_mean_moisture_percent",
			Help: "Mean soil moisture across plants with a reading (%)",
		}),
		moisture: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantcare_plant_moisture_percent",
			Help: "Soil moisture (%)",
		}, plantLabels),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantcare_plant_temperature",
			Help: "Temperature (device units)",
		}, plantLabels),
		light: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantcare_plant_light_percent",
			Help: "Light level (%)",
		}, plantLabels),
		waterDetected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantcare_plant_water_detected",
			Help: "1 if the reservoir sensor detects water",
		}, plantLabels),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantcare_plant_status",
			Help: "Current health status (1 for the active status label)",
		}, []string{"plant", "status"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantcare_plant_degraded",
			Help: "1 if the plant reading is stale",
		}, plantLabels),
		readingAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantcare_plant_reading_age_seconds",
			Help: "Age of the current reading at snapshot time",
		}, plantLabels),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.snapshotVersion.Describe(ch)
	c.plantsTotal.Describe(ch)
	c.healthyTotal.Describe(ch)
	c.meanMoisture.Describe(ch)
	c.moisture.Describe(ch)
	c.temperature.Describe(ch)
	c.light.Describe(ch)
	c.waterDetected.Describe(ch)
	c.status.Describe(ch)
	c.degraded.Describe(ch)
	c.readingAge.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.store.Snapshot()
	summary := classify.Summarize(snap.Plants)

	c.snapshotVersion.Set(float64(snap.Version))
	c.plantsTotal.Set(float64(summary.Total))
	c.healthyTotal.Set(float64(summary.Healthy))
	c.meanMoisture.Set(summary.MeanMoisture)

	c.moisture.Reset()
	c.temperature.Reset()
	c.light.Reset()
	c.waterDetected.Reset()
	c.status.Reset()
	c.degraded.Reset()
	c.readingAge.Reset()

	for _, p := range snap.Plants {
		labels := prometheus.Labels{"plant": p.ID, "origin": string(p.Origin)}
		c.status.With(prometheus.Labels{"plant": p.ID, "status": string(p.Status)}).Set(1)
		c.degraded.With(labels).Set(boolGauge(p.Degraded))
		if p.Reading == nil {
			continue
		}
		c.moisture.With(labels).Set(p.Reading.Moisture)
		c.temperature.With(labels).Set(p.Reading.Temperature)
		c.light.With(labels).Set(p.Reading.Light)
		c.waterDetected.With(labels).Set(boolGauge(p.Reading.WaterDetected))
		if p.Origin == core.OriginLive {
			c.readingAge.With(labels).Set(snap.TakenAt.Sub(p.Reading.CapturedAt).Seconds())
		}
	}

	c.snapshotVersion.Collect(ch)
	c.plantsTotal.Collect(ch)
	c.healthyTotal.Collect(ch)
	c.meanMoisture.Collect(ch)
	c.moisture.Collect(ch)
	c.temperature.Collect(ch)
	c.light.Collect(ch)
	c.waterDetected.Collect(ch)
	c.status.Collect(ch)
	c.degraded.Collect(ch)
	c.readingAge.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
