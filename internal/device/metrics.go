package device

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/plantcare/internal/core"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantcare_device_requests_total",
			Help: "Device API calls by operation and result",
		},
		[]string{"op", "result"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plantcare_device_request_duration_seconds",
			Help:    "Device API call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)
	mqttAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantcare_device_mqtt_acks_total",
			Help: "Command acknowledgements received over MQTT",
		},
		[]string{"matched"},
	)
)

// MetricsCollectors exposes device client collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		requestsTotal,
		requestDuration,
		mqttAcksTotal,
	}
}

func observe(op string, start time.Time, err error) {
	requestsTotal.WithLabelValues(op, core.ErrorKind(err)).Inc()
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
