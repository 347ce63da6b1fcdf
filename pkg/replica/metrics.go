package replica

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK           = "ok"
	resultIllegal      = "illegal"
	resultPersistError = "persist_error"
)

// Metrics tracks replica state changes
type Metrics struct {
	Transitions     *prometheus.CounterVec
	PersistFailures prometheus.Counter
	Entries         prometheus.Gauge
}

// NewMetrics creates and registers the replica metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		Transitions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "poolselect_replica_transitions_total",
			Help: "Replica state transitions by name and result",
		}, []string{"transition", "result"}),
		PersistFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "poolselect_replica_persist_failures_total",
			Help: "Number of failed control record writes",
		}),
		Entries: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "poolselect_replica_entries",
			Help: "Number of replicas known to the repository",
		}),
	}
}

func (m *Metrics) observeTransition(op Op, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(op.String(), result).Inc()
}

func (m *Metrics) observePersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.Entries.Set(float64(n))
}
