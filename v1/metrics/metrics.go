// Package metrics exposes Prometheus collectors for blob store operations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// InsertCounter tracks the number of Insert operations.
	InsertCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blobcache_insert_total",
		Help: "Total number of Insert operations",
	})
	// GetCounter tracks the number of Get operations.
	GetCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blobcache_get_total",
		Help: "Total number of Get operations",
	})
	// InvalidateCounter tracks the number of invalidations, single-key and
	// whole-store.
	InvalidateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blobcache_invalidate_total",
		Help: "Total number of invalidations",
	})
	// VacuumCounter tracks the number of Vacuum operations.
	VacuumCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blobcache_vacuum_total",
		Help: "Total number of Vacuum operations",
	})
	// OverrideGauge reports the number of active registry overrides.
	OverrideGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blobcache_registry_overrides",
		Help: "Current number of active registry overrides",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers blob store metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(InsertCounter, GetCounter, InvalidateCounter, VacuumCounter, OverrideGauge)
}
