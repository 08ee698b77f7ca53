// Package problem translates a validated entity set and the time grid into
// decision variables and constraints over the abstract solver interface.
// Three build modes share one constraint surface: the production model, the
// assumption-guarded model used for unsat-core diagnostics, and the
// slack-relaxed model used for bottleneck diagnostics.
package problem

import (
	"fmt"

	"github.com/narvik-labs/therasched/core/solver"
	"github.com/narvik-labs/therasched/core/timegrid"
)

// Mode selects the constraint flavor of a build.
type Mode int

const (
	// ModeHard builds the production model with hard constraints.
	ModeHard Mode = iota
	// ModeAssumption wraps every labeled constraint group in an assumption
	// literal so the solver can be asked for an unsatisfiable subset.
	ModeAssumption
	// ModeSoft replaces coverage and capacity constraints with slack-relaxed
	// forms whose total slack measures how infeasible the instance is.
	ModeSoft
)

// Weights configure the soft optimization objective. A weight of zero
// disables its term.
type Weights struct {
	PatientDaysWeight      int `json:"patient_days_weight"`
	TherapistIdleGapWeight int `json:"therapist_idle_gap_weight"`
}

// SetDefaults applies the default nonzero weights. Configuration loading
// seeds defaults before unmarshaling instead, so a zero configured there
// stays zero.
func (w *Weights) SetDefaults() {
	if w.PatientDaysWeight == 0 {
		w.PatientDaysWeight = 1
	}
	if w.TherapistIdleGapWeight == 0 {
		w.TherapistIdleGapWeight = 1
	}
}

// Validate rejects negative weights.
func (w Weights) Validate() error {
	if w.PatientDaysWeight < 0 || w.TherapistIdleGapWeight < 0 {
		return fmt.Errorf("objective weights must be non-negative")
	}
	return nil
}

// ModelBuildError reports an internal invariant violation while constructing
// variables. It should not occur on validated input.
type ModelBuildError struct {
	Reason string
}

func (e *ModelBuildError) Error() string { return "model build: " + e.Reason }

func buildErrf(format string, args ...any) error {
	return &ModelBuildError{Reason: fmt.Sprintf(format, args...)}
}

// SessionKey identifies one instantiable session slot.
type SessionKey struct {
	Therapy string
	Room    string
	Day     timegrid.Day
	Block   int
}

// AttendKey identifies a patient's assignment variable for one session slot.
type AttendKey struct {
	Patient string
	Therapy string
	Room    string
	Day     timegrid.Day
	Block   int
}

// StaffKey identifies a therapist covering one specialty slot of a session.
type StaffKey struct {
	Therapist string
	Therapy   string
	Room      string
	Day       timegrid.Day
	Block     int
	Specialty string
}

// Slack is one relaxed constraint of the soft model. Its magnitude is the
// sum of the slack variables' values in a solution; Format renders the
// finding with that magnitude.
type Slack struct {
	Vars   []solver.Var
	Format string
}

// Built is the populated model handle the orchestrator, extractor and
// diagnostics work with.
type Built struct {
	Mode     Mode
	Sessions map[SessionKey]solver.Var
	Attends  map[AttendKey]solver.Var
	Staff    map[StaffKey]solver.Var

	// Labels maps each top-level constraint group to its assumption literal.
	// Populated in ModeAssumption only. LabelOrder preserves creation order
	// so diagnostics stay deterministic.
	Labels     map[string]solver.Var
	LabelOrder []string

	// Slacks holds the relaxed constraints of ModeSoft.
	Slacks []Slack

	// Objective variables of ModeHard, kept for tests and extraction.
	PatientDayUsed map[PatientDayKey]solver.Var
	IdleGaps       []solver.Var

	attendsByPD          map[patientDay][]solver.Var
	staffByTherapistCell map[entityDayBlock][]solver.Var
}

// PatientDayKey indexes the patient-day-used objective indicators.
type PatientDayKey struct {
	Patient string
	Day     timegrid.Day
}

// labelf builds the stable identifier of a constraint group. The format is
// "<kind>:<qualifier>[:...]", e.g. "coverage:patient P1:therapy solo".
func labelf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
