package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the collector.
type Metrics struct {
	LastProcessedBlock prometheus.Gauge
	PoolsTracked       prometheus.Gauge
	PendingUnits       prometheus.Gauge
	UnitsSpawned       prometheus.Counter
	UnitOutcomes       *prometheus.CounterVec
	UnitDuration       prometheus.Histogram
	QuotesMissing      *prometheus.CounterVec
}

// NewMetrics creates the collector metrics and registers them with reg.
// A nil reg creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LastProcessedBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_last_processed_block",
			Help:      "The block number of the last block that triggered a collection wave.",
		}),
		PoolsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_pools_tracked",
			Help:      "The number of pools collected on every new block.",
		}),
		PendingUnits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_pending_units",
			Help:      "Collection units spawned but not yet drained.",
		}),
		UnitsSpawned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_units_spawned_total",
			Help:      "Total number of collection units spawned.",
		}),
		UnitOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_unit_outcomes_total",
			Help:      "Drained collection units, labeled by outcome kind.",
		}, []string{"kind"}),
		UnitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_unit_duration_seconds",
			Help:      "Time from spawn to completion of a collection unit.",
			Buckets:   prometheus.DefBuckets,
		}),
		QuotesMissing: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_quotes_missing_total",
			Help:      "Records written without a best trade, labeled by direction.",
		}, []string{"direction"}),
	}
}
