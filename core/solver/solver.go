// Package solver defines the capability surface the scheduling core needs
// from a boolean/integer constraint solver. Any conforming engine can back
// the core; the bundled one lives in infra/cpsolver.
package solver

import (
	"context"
	"math"
	"time"
)

// Var identifies one decision variable inside a Model.
type Var int

// Term is one coefficient-variable pair of a linear expression.
type Term struct {
	Var  Var
	Coef int
}

// Status reports the outcome of a Solve call.
type Status int

const (
	// StatusUnknown means the time budget ran out before a solution or an
	// infeasibility proof was found.
	StatusUnknown Status = iota
	// StatusOptimal means a provably optimal solution was found (or, for a
	// pure satisfaction model, any solution).
	StatusOptimal
	// StatusFeasible means a solution was found but optimality is unproven.
	StatusFeasible
	// StatusInfeasible means the solver proved no assignment exists.
	StatusInfeasible
	// StatusError means the solver failed internally.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "OPTIMAL"
	case StatusFeasible:
		return "FEASIBLE"
	case StatusInfeasible:
		return "INFEASIBLE"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// HasSolution reports whether a variable assignment is available.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// Options control a single Solve call.
type Options struct {
	// TimeLimit bounds the search. Zero means no limit beyond the context.
	TimeLimit time.Duration
	// Deterministic requests a reproducible search order. Engines that are
	// already deterministic may ignore it.
	Deterministic bool
	// Workers is the internal parallelism knob, opaque to the core.
	// Zero lets the engine decide.
	Workers int
	// Assumptions are boolean literals fixed true for this solve only.
	Assumptions []Var
}

// Result carries the outcome of a Solve call.
type Result struct {
	Status    Status
	Objective int
	// Values holds the assignment indexed by Var when Status.HasSolution().
	Values []int
	// Core is the engine-reported unsatisfiable subset of the assumption
	// literals when Status is StatusInfeasible. A nil Core means the engine
	// offers no native core extraction and callers must fall back to
	// deletion-based shrinking.
	Core []Var
}

// Value returns the assigned value of v. Only valid when a solution exists.
func (r Result) Value(v Var) int { return r.Values[v] }

// BoolValue returns the assigned truth value of a boolean variable.
func (r Result) BoolValue(v Var) bool { return r.Values[v] != 0 }

// Model is a constraint model under construction. Implementations are not
// safe for concurrent mutation; each scheduling request owns its own Model.
type Model interface {
	// NewBoolVar creates a 0/1 variable.
	NewBoolVar(name string) Var
	// NewIntVar creates an integer variable with inclusive bounds.
	NewIntVar(lo, hi int, name string) Var
	// AddLinear constrains lo <= sum(terms) <= hi.
	AddLinear(terms []Term, lo, hi int)
	// AddLinearIf enforces the bounds only when the guard literal is true.
	// A false guard leaves the expression unconstrained.
	AddLinearIf(guard Var, terms []Term, lo, hi int)
	// Minimize installs the objective. At most one objective per model.
	Minimize(terms []Term)
	// Solve runs the search until optimality, infeasibility, the time
	// budget, or context cancellation.
	Solve(ctx context.Context, opts Options) (Result, error)
}

// Factory produces fresh, independent models. The diagnostics engine relies
// on this to re-derive models without sharing solver state with a failed
// solve attempt.
type Factory func() Model

// Bound sentinels for one-sided linear constraints. Engines must treat them
// as "no bound on this side" rather than as numeric limits.
const (
	NoLower = math.MinInt32
	NoUpper = math.MaxInt32
)
