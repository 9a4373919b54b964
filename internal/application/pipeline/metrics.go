package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the orchestrator's Prometheus instrumentation, grounded on
// the teacher's internal/interfaces/http.MetricsRegistry (StepDuration
// histogram + counter-vec pattern), scoped down to the nine pipeline stages
// and the learning-gate verdict.
type Metrics struct {
	StageDuration      *prometheus.HistogramVec
	LearningGateStatus *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
}

// NewMetrics builds a fresh, unregistered Metrics set. Callers register it
// against a prometheus.Registerer (or the default registry) once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veloengine_pipeline_stage_duration_seconds",
				Help:    "Duration of each orchestrator stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"stage"},
		),
		LearningGateStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veloengine_learning_gate_status_total",
				Help: "Count of learning gate verdicts by status",
			},
			[]string{"status"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veloengine_pipeline_runs_total",
				Help: "Count of pipeline runs by result",
			},
			[]string{"result"},
		),
	}
}

// Register adds every collector to reg. Safe to call once at process start.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.StageDuration, m.LearningGateStatus, m.RunsTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordResult(result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordLearningGateStatus(status string) {
	if m == nil {
		return
	}
	m.LearningGateStatus.WithLabelValues(status).Inc()
}
