// Package metrics implements the core metrics sink on Prometheus and
// InfluxDB, plus the fan-out and HTTP plumbing around them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/narvik-labs/therasched/core/metrics"
)

// PromSink records scheduling outcomes in Prometheus metrics.
type PromSink struct {
	solves    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	sessions  prometheus.Histogram
	findings  *prometheus.CounterVec
	objective prometheus.Gauge
}

// NewPromSink registers scheduling metrics on the provided Prometheus
// registerer. If reg is nil, the default registerer is used. Collectors
// already registered are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	solves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_solves_total",
		Help: "Total number of scheduling requests by outcome",
	}, []string{"status", "solver_status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schedule_solve_duration_seconds",
		Help:    "Wall-clock duration of the primary solve",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	sessions := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_sessions_per_solve",
		Help:    "Number of sessions in a successful schedule",
		Buckets: []float64{0, 5, 10, 25, 50, 100, 250},
	})
	findings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_diagnostic_findings_total",
		Help: "Total diagnostic findings by method",
	}, []string{"method"})
	objective := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedule_last_objective_value",
		Help: "Objective value of the most recent successful schedule",
	})

	s := &PromSink{solves: solves, duration: duration, sessions: sessions, findings: findings, objective: objective}
	for _, c := range []prometheus.Collector{solves, duration, sessions, findings, objective} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return s, nil
}

// RecordSolve increments the outcome counters and observes the duration.
func (s *PromSink) RecordSolve(rec coremetrics.SolveRecord) error {
	s.solves.WithLabelValues(rec.Status, rec.SolverStatus).Inc()
	s.duration.WithLabelValues(rec.Status).Observe(rec.Duration.Seconds())
	if rec.Status == "success" {
		s.sessions.Observe(float64(rec.Sessions))
	}
	if rec.HasObjective {
		s.objective.Set(float64(rec.Objective))
	}
	return nil
}

// RecordDiagnostics adds the finding count for the method.
func (s *PromSink) RecordDiagnostics(rec coremetrics.DiagnosticRecord) error {
	s.findings.WithLabelValues(rec.Method).Add(float64(rec.Findings))
	return nil
}
