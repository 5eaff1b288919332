package core

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegistry builds a registry from component collectors.
func MetricsRegistry(groups ...[]prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	for _, collectors := range groups {
		for _, collector := range collectors {
			registry.MustRegister(collector)
		}
	}

	return registry
}
