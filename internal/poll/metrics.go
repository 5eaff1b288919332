package poll

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plantcare_poll_ticks_total",
		Help: "Completed poll cycles",
	})
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "plantcare_poll_tick_duration_seconds",
		Help:    "Time spent in one poll cycle, excluding dispatch",
		Buckets: prometheus.DefBuckets,
	})
	lastTick = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plantcare_poll_last_tick_timestamp_seconds",
		Help: "Unix time of the last completed poll cycle",
	})
	fetchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantcare_poll_fetch_results_total",
			Help: "Device fetch outcomes per poll cycle",
		},
		[]string{"result"},
	)
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantcare_poll_dispatches_total",
			Help: "Commands dispatched by the poll loop",
		},
		[]string{"origin", "action"},
	)
	inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plantcare_poll_dispatches_in_flight",
		Help: "Dispatches awaiting a device response",
	})
	staleCompletions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plantcare_poll_stale_completions_total",
		Help: "Dispatch results that arrived after their command expired",
	})
	commitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plantcare_poll_commits_total",
		Help: "Fleet snapshots committed by the poll loop",
	})
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		ticksTotal,
		tickDuration,
		lastTick,
		fetchResults,
		dispatchesTotal,
		inFlightGauge,
		staleCompletions,
		commitsTotal,
	}
}
