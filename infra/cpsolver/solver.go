// Package cpsolver is the bundled constraint engine behind the core/solver
// interface. It runs a depth-first search with bounds-consistency propagation
// over bounded integer variables and guarded linear constraints, plus
// branch-and-bound when an objective is installed.
//
// The search is deterministic: variables branch in creation order and values
// are tried lowest first. The engine reports no native unsatisfiable core,
// so callers shrink assumption sets by deletion.
package cpsolver

import (
	"context"
	"fmt"
	"time"

	"github.com/narvik-labs/therasched/core/solver"
)

const noGuard = solver.Var(-1)

type variable struct {
	lo, hi int
	name   string
}

type linear struct {
	terms []solver.Term
	lo    int
	hi    int
	guard solver.Var
}

// Model implements solver.Model.
type Model struct {
	vars []variable
	cons []linear
	obj  []solver.Term
}

// New creates an empty model.
func New() *Model { return &Model{} }

// Factory adapts New to the solver.Factory signature.
func Factory() solver.Model { return New() }

// NewBoolVar creates a 0/1 variable.
func (m *Model) NewBoolVar(name string) solver.Var {
	return m.NewIntVar(0, 1, name)
}

// NewIntVar creates an integer variable with inclusive bounds.
func (m *Model) NewIntVar(lo, hi int, name string) solver.Var {
	m.vars = append(m.vars, variable{lo: lo, hi: hi, name: name})
	return solver.Var(len(m.vars) - 1)
}

// AddLinear constrains lo <= sum(terms) <= hi.
func (m *Model) AddLinear(terms []solver.Term, lo, hi int) {
	m.cons = append(m.cons, linear{terms: terms, lo: lo, hi: hi, guard: noGuard})
}

// AddLinearIf enforces the bounds only while guard is true.
func (m *Model) AddLinearIf(guard solver.Var, terms []solver.Term, lo, hi int) {
	m.cons = append(m.cons, linear{terms: terms, lo: lo, hi: hi, guard: guard})
}

// Minimize installs the objective expression.
func (m *Model) Minimize(terms []solver.Term) {
	m.obj = terms
}

// Solve runs the search. See the package comment for the strategy.
func (m *Model) Solve(ctx context.Context, opts solver.Options) (solver.Result, error) {
	deadline := time.Time{}
	if opts.TimeLimit > 0 {
		deadline = time.Now().Add(opts.TimeLimit)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	s := &search{
		model:    m,
		ctx:      ctx,
		deadline: deadline,
		lo:       make([]int, len(m.vars)),
		hi:       make([]int, len(m.vars)),
	}
	for i, v := range m.vars {
		s.lo[i] = v.lo
		s.hi[i] = v.hi
	}
	for _, a := range opts.Assumptions {
		v := int(a)
		if v < 0 || v >= len(m.vars) {
			return solver.Result{Status: solver.StatusError}, fmt.Errorf("assumption literal %d out of range", v)
		}
		if s.hi[v] < 1 || s.lo[v] > 1 {
			return solver.Result{Status: solver.StatusInfeasible}, nil
		}
		s.lo[v], s.hi[v] = 1, 1
	}

	return s.run()
}

// search holds the mutable state of one Solve call. Bounds are updated in
// place and undone through the trail on backtrack.
type search struct {
	model    *Model
	ctx      context.Context
	deadline time.Time

	lo, hi []int
	trail  []trailEntry

	nodes    int
	timedOut bool

	hasBest  bool
	bestObj  int
	bestVals []int
}

type trailEntry struct {
	idx    int
	oldLo  int
	oldHi  int
	wasLow bool
}

func (s *search) run() (solver.Result, error) {
	s.dfs()
	if s.timedOut {
		if s.hasBest {
			return solver.Result{Status: solver.StatusFeasible, Objective: s.bestObj, Values: s.bestVals}, nil
		}
		return solver.Result{Status: solver.StatusUnknown}, nil
	}
	if s.hasBest {
		return solver.Result{Status: solver.StatusOptimal, Objective: s.bestObj, Values: s.bestVals}, nil
	}
	return solver.Result{Status: solver.StatusInfeasible}, nil
}

func (s *search) expired() bool {
	if s.timedOut {
		return true
	}
	s.nodes++
	if s.nodes%256 == 0 {
		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			s.timedOut = true
		}
		select {
		case <-s.ctx.Done():
			s.timedOut = true
		default:
		}
	}
	return s.timedOut
}

// dfs explores the subtree under the current bounds. It returns once the
// subtree is exhausted or the deadline fires; solutions are recorded as a
// side effect and, without an objective, stop the search early.
func (s *search) dfs() bool {
	if s.expired() {
		return false
	}
	mark := len(s.trail)
	if !s.propagate() {
		s.undo(mark)
		return false
	}
	if s.hasBest && len(s.model.obj) > 0 {
		// Branch-and-bound: prune subtrees that cannot beat the incumbent.
		if s.objLowerBound() >= s.bestObj {
			s.undo(mark)
			return false
		}
	}

	branch := -1
	for i := range s.lo {
		if s.lo[i] < s.hi[i] {
			branch = i
			break
		}
	}
	if branch == -1 {
		s.record()
		s.undo(mark)
		// Keep searching for better incumbents only when minimizing.
		return len(s.model.obj) == 0
	}

	// Try the lowest value first, then the remainder of the domain.
	val := s.lo[branch]
	s.set(branch, val, val)
	if s.dfs() {
		s.undo(mark)
		return true
	}
	s.undo(mark)
	if s.timedOut {
		return false
	}
	if !s.propagate() { // restore pruning done before the branch
		s.undo(mark)
		return false
	}
	s.set(branch, val+1, s.hi[branch])
	done := s.dfs()
	s.undo(mark)
	return done
}

func (s *search) record() {
	obj := 0
	for _, t := range s.model.obj {
		obj += t.Coef * s.lo[t.Var]
	}
	if s.hasBest && obj >= s.bestObj {
		return
	}
	s.hasBest = true
	s.bestObj = obj
	s.bestVals = make([]int, len(s.lo))
	copy(s.bestVals, s.lo)
}

func (s *search) objLowerBound() int {
	bound := 0
	for _, t := range s.model.obj {
		if t.Coef >= 0 {
			bound += t.Coef * s.lo[t.Var]
		} else {
			bound += t.Coef * s.hi[t.Var]
		}
	}
	return bound
}

func (s *search) set(idx, lo, hi int) {
	s.trail = append(s.trail, trailEntry{idx: idx, oldLo: s.lo[idx], oldHi: s.hi[idx]})
	s.lo[idx] = lo
	s.hi[idx] = hi
}

func (s *search) undo(mark int) {
	for len(s.trail) > mark {
		e := s.trail[len(s.trail)-1]
		s.trail = s.trail[:len(s.trail)-1]
		s.lo[e.idx] = e.oldLo
		s.hi[e.idx] = e.oldHi
	}
}

// propagate runs bounds-consistency to fixpoint. It returns false on a
// wipeout (some constraint cannot hold under the current bounds).
func (s *search) propagate() bool {
	for changed := true; changed; {
		changed = false
		for ci := range s.model.cons {
			c := &s.model.cons[ci]
			state := s.guardState(c)
			if state == guardFalse {
				continue
			}
			sumMin, sumMax := s.sumBounds(c.terms)
			violated := (c.lo != solver.NoLower && sumMax < c.lo) ||
				(c.hi != solver.NoUpper && sumMin > c.hi)
			if state == guardUnfixed {
				if violated {
					// The guarded expression cannot hold, so the guard is false.
					if !s.tighten(int(c.guard), 0, 0, &changed) {
						return false
					}
				}
				continue
			}
			if violated {
				return false
			}
			if !s.tightenTerms(c, sumMin, sumMax, &changed) {
				return false
			}
		}
	}
	return true
}

type guardState int

const (
	guardNone guardState = iota
	guardTrue
	guardFalse
	guardUnfixed
)

func (s *search) guardState(c *linear) guardState {
	if c.guard == noGuard {
		return guardTrue
	}
	g := int(c.guard)
	switch {
	case s.lo[g] >= 1:
		return guardTrue
	case s.hi[g] <= 0:
		return guardFalse
	default:
		return guardUnfixed
	}
}

func (s *search) sumBounds(terms []solver.Term) (int, int) {
	sumMin, sumMax := 0, 0
	for _, t := range terms {
		if t.Coef >= 0 {
			sumMin += t.Coef * s.lo[t.Var]
			sumMax += t.Coef * s.hi[t.Var]
		} else {
			sumMin += t.Coef * s.hi[t.Var]
			sumMax += t.Coef * s.lo[t.Var]
		}
	}
	return sumMin, sumMax
}

// tightenTerms narrows each variable of an active constraint so the linear
// expression can still reach [c.lo, c.hi].
func (s *search) tightenTerms(c *linear, sumMin, sumMax int, changed *bool) bool {
	for _, t := range c.terms {
		if t.Coef == 0 {
			continue
		}
		v := int(t.Var)
		var contribMin, contribMax int
		if t.Coef > 0 {
			contribMin = t.Coef * s.lo[v]
			contribMax = t.Coef * s.hi[v]
		} else {
			contribMin = t.Coef * s.hi[v]
			contribMax = t.Coef * s.lo[v]
		}
		restMin := sumMin - contribMin
		restMax := sumMax - contribMax

		newLo, newHi := s.lo[v], s.hi[v]
		if c.hi != solver.NoUpper {
			// t.Coef*x <= c.hi - restMin
			if t.Coef > 0 {
				newHi = min(newHi, floorDiv(c.hi-restMin, t.Coef))
			} else {
				newLo = max(newLo, ceilDiv(c.hi-restMin, t.Coef))
			}
		}
		if c.lo != solver.NoLower {
			// t.Coef*x >= c.lo - restMax
			if t.Coef > 0 {
				newLo = max(newLo, ceilDiv(c.lo-restMax, t.Coef))
			} else {
				newHi = min(newHi, floorDiv(c.lo-restMax, t.Coef))
			}
		}
		if newLo > newHi {
			return false
		}
		if !s.tighten(v, newLo, newHi, changed) {
			return false
		}
	}
	return true
}

func (s *search) tighten(idx, lo, hi int, changed *bool) bool {
	lo = max(lo, s.lo[idx])
	hi = min(hi, s.hi[idx])
	if lo > hi {
		return false
	}
	if lo == s.lo[idx] && hi == s.hi[idx] {
		return true
	}
	s.set(idx, lo, hi)
	*changed = true
	return true
}

// floorDiv and ceilDiv round toward the correct side for negative operands.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		q++
	}
	return q
}
