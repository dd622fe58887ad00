package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the ingestion service. A nil
// *Metrics records nothing.
type Metrics struct {
	duration       *prometheus.HistogramVec // By operation and result
	triples        *prometheus.CounterVec   // By result
	mirrorFailures *prometheus.CounterVec   // By kind
}

// NewMetrics creates the ingestion collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "govdoc",
			Subsystem: "ingest",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ingest, delete and reconcile operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),

		triples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govdoc",
			Subsystem: "ingest",
			Name:      "triples_total",
			Help:      "Ingested triples by result",
		}, []string{"result"}), // result: inserted, conflict, invalid

		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govdoc",
			Subsystem: "ingest",
			Name:      "mirror_failures_total",
			Help:      "Failed graph mirror writes",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.duration, m.triples, m.mirrorFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.duration.WithLabelValues(operation, result).Observe(d.Seconds())
}

func (m *Metrics) triple(result string) {
	if m == nil {
		return
	}
	m.triples.WithLabelValues(result).Inc()
}

func (m *Metrics) mirrorFailed(kind string) {
	if m == nil {
		return
	}
	m.mirrorFailures.WithLabelValues(kind).Inc()
}
