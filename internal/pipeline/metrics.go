package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const namespace = "evm_indexer"

// Metrics -
type Metrics struct {
	committed  prometheus.Counter
	duplicates prometheus.Counter
	retracted  prometheus.Counter
	rejected   prometheus.Counter
	retries    prometheus.Counter
	height     prometheus.Gauge
	latency    prometheus.Histogram
}

// NewMetrics - creates pipeline metrics and registers them in registerer if it is not nil
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_blocks_total",
			Help:      "Count of committed blocks",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_blocks_total",
			Help:      "Count of re-delivered blocks which were already committed",
		}),
		retracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retracted_blocks_total",
			Help:      "Count of blocks retracted by reorgs",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_transactions_total",
			Help:      "Count of transactions skipped because of invalid input",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_retries_total",
			Help:      "Count of retried storage operations",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_height",
			Help:      "Height of the last committed block",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_processing_seconds",
			Help:      "Time spent to process one block",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	if registerer != nil {
		for _, collector := range []prometheus.Collector{
			m.committed, m.duplicates, m.retracted, m.rejected, m.retries, m.height, m.latency,
		} {
			if err := registerer.Register(collector); err != nil {
				log.Warn().Err(err).Msg("unable to register metric")
			}
		}
	}
	return m
}
