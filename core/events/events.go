// Package events defines the scheduling lifecycle events emitted on the
// event bus.
//
// Available event types:
//   - SolveStarted: a scheduling request entered the solve phase
//   - SolveFinished: the request completed with a final status
//   - DiagnosticsProduced: one diagnostic strategy finished
package events

import "time"

// SolveStarted is published when the orchestrator hands a built model to
// the solver.
type SolveStarted struct {
	RunID      string
	Patients   int
	Therapists int
	Rooms      int
}

// SolveFinished is published when a scheduling request reaches its final
// status.
type SolveFinished struct {
	RunID        string
	Status       string
	SolverStatus string
	Sessions     int
	Duration     time.Duration
}

// DiagnosticsProduced is published once per diagnostic method after an
// infeasible solve. Method is "prechecks", "assumptions" or "soft".
type DiagnosticsProduced struct {
	RunID    string
	Method   string
	Findings int
}
