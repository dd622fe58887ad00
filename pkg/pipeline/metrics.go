package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the pipeline. A nil *Metrics
// records nothing.
type Metrics struct {
	stageDuration   *prometheus.HistogramVec // By stage
	stageStatus     *prometheus.CounterVec   // By stage and status
	runs            *prometheus.CounterVec   // By outcome
	persistFailures prometheus.Counter
}

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "govdoc",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),

		stageStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govdoc",
			Subsystem: "pipeline",
			Name:      "stage_status_total",
			Help:      "Pipeline stage outcomes",
		}, []string{"stage", "status"}),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govdoc",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"outcome"}), // outcome: completed, blocked, aborted, failed

		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govdoc",
			Subsystem: "pipeline",
			Name:      "persist_failures_total",
			Help:      "Turns that could not be persisted",
		}),
	}

	for _, c := range []prometheus.Collector{m.stageDuration, m.stageStatus, m.runs, m.persistFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.stageStatus.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) run(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) persistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
