// Package scheduler orchestrates a scheduling request end to end: model
// build, objective encoding, the solve call, result extraction, and the
// infeasibility diagnostics hand-off.
package scheduler

import "time"

// Result statuses surfaced to callers.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// StaffRecord is one therapist covering one specialty slot of a session.
type StaffRecord struct {
	TherapistID string `json:"therapistId"`
	Specialty   string `json:"specialty"`
}

// SessionRecord is one scheduled session with its attendees and staff.
type SessionRecord struct {
	ID         string        `json:"id"`
	Day        string        `json:"day"`
	Start      string        `json:"start"`
	End        string        `json:"end"`
	RoomID     string        `json:"roomId"`
	TherapyID  string        `json:"therapyId"`
	PatientIDs []string      `json:"patientIds"`
	Staff      []StaffRecord `json:"staff"`
}

// Diagnostics groups the findings of the three infeasibility strategies.
type Diagnostics struct {
	Soft        []string `json:"soft"`
	Prechecks   []string `json:"prechecks"`
	Assumptions []string `json:"assumptions"`
}

// Result is the outcome of one scheduling request.
type Result struct {
	RunID          string          `json:"runId"`
	Status         string          `json:"status"`
	SolverStatus   string          `json:"solverStatus"`
	Message        string          `json:"message,omitempty"`
	ObjectiveValue *int            `json:"objectiveValue,omitempty"`
	Sessions       []SessionRecord `json:"sessions"`
	Diagnostics    *Diagnostics    `json:"diagnosticsByMethod,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
}
