package selection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"poolselect/pkg/types"
)

// Metrics tracks matcher and configuration activity
type Metrics struct {
	// Matcher metrics
	MatchTotal   *prometheus.CounterVec
	MatchEmpty   *prometheus.CounterVec
	MatchErrors  prometheus.Counter
	MatchLatency prometheus.Histogram

	// Configuration metrics
	GraphMutations  *prometheus.CounterVec
	GraphGeneration prometheus.Gauge
}

// NewMetrics creates and registers the selection metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		MatchTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "poolselect_match_total",
			Help: "Total number of pool selection queries",
		}, []string{"operation"}),
		MatchEmpty: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "poolselect_match_empty_total",
			Help: "Number of pool selection queries that found no eligible pool",
		}, []string{"operation"}),
		MatchErrors: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "poolselect_match_errors_total",
			Help: "Number of rejected pool selection queries",
		}),
		MatchLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "poolselect_match_latency_seconds",
			Help:    "Pool selection latency",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10), // 1µs to ~260ms
		}),
		GraphMutations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "poolselect_graph_mutations_total",
			Help: "Configuration mutations by verb",
		}, []string{"verb"}),
		GraphGeneration: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "poolselect_graph_generation",
			Help: "Generation of the published configuration",
		}),
	}
}

func (m *Metrics) observeMatch(op types.Operation, levels []PreferenceLevel, err error, took time.Duration) {
	m.MatchLatency.Observe(took.Seconds())
	if err != nil {
		m.MatchErrors.Inc()
		return
	}
	m.MatchTotal.WithLabelValues(op.String()).Inc()
	if len(levels) == 0 {
		m.MatchEmpty.WithLabelValues(op.String()).Inc()
	}
}
