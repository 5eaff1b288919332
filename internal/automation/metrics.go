package automation

import "github.com/prometheus/client_golang/prometheus"

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantcare_automation_decisions_total",
			Help: "Automation gate decisions by outcome",
		},
		[]string{"plant", "outcome"},
	)
	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantcare_automation_completions_total",
			Help: "Completed command dispatches by result",
		},
		[]string{"plant", "action", "origin", "result"},
	)
	inFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plantcare_automation_command_in_flight",
			Help: "1 while a command is pending for the plant",
		},
		[]string{"plant"},
	)
)

// MetricsCollectors returns collectors for the automation engine.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		decisions,
		completions,
		inFlight,
	}
}
