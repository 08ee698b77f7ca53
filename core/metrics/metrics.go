// Package metrics defines the observability records and the sink interface
// the scheduling engine reports through.
package metrics

import "time"

// SolveRecord captures the outcome of one scheduling request.
type SolveRecord struct {
	RunID        string
	Status       string
	SolverStatus string
	Objective    int
	HasObjective bool
	Sessions     int
	Duration     time.Duration
	Time         time.Time
}

// DiagnosticRecord captures the outcome of one diagnostic strategy run.
type DiagnosticRecord struct {
	RunID    string
	Method   string
	Findings int
	Time     time.Time
}

// Sink records scheduling outcomes for observability purposes.
type Sink interface {
	RecordSolve(rec SolveRecord) error
	RecordDiagnostics(rec DiagnosticRecord) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordSolve(SolveRecord) error            { return nil }
func (NopSink) RecordDiagnostics(DiagnosticRecord) error { return nil }
