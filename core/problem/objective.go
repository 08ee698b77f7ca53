package problem

import (
	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/solver"
	"github.com/narvik-labs/therasched/core/timegrid"
)

// noVar marks a grid cell whose indicator is the constant false.
const noVar solver.Var = -1

// EncodeObjective installs the weighted soft objective on a hard-mode model:
// minimize the number of distinct days each patient comes in, plus the idle
// gap blocks sitting between two staffed blocks of a therapist's day. A day
// with no activity contributes zero on both axes. With both weights at zero
// the model stays a pure satisfaction problem.
func EncodeObjective(m solver.Model, inst *model.Instance, built *Built, w Weights) {
	var obj []solver.Term
	if w.PatientDaysWeight > 0 {
		for _, v := range encodePatientDays(m, inst, built) {
			obj = append(obj, solver.Term{Var: v, Coef: w.PatientDaysWeight})
		}
	}
	if w.TherapistIdleGapWeight > 0 {
		for _, v := range encodeIdleGaps(m, inst, built) {
			obj = append(obj, solver.Term{Var: v, Coef: w.TherapistIdleGapWeight})
		}
	}
	if len(obj) == 0 {
		return
	}
	m.Minimize(obj)
}

// encodePatientDays creates one indicator per (patient, day) with any
// candidate assignment, tied to the disjunction of the day's assignments.
func encodePatientDays(m solver.Model, inst *model.Instance, built *Built) []solver.Var {
	var indicators []solver.Var
	for _, patient := range inst.Patients {
		for _, day := range timegrid.Days() {
			attends := built.attendsByPD[patientDay{patient.ID, day}]
			if len(attends) == 0 {
				continue
			}
			used := m.NewBoolVar(labelf("dayused_%s_%s", patient.ID, day))
			terms := make([]solver.Term, 0, len(attends)+1)
			for _, av := range attends {
				// Any assignment turns the day on.
				m.AddLinear([]solver.Term{{Var: av, Coef: 1}, {Var: used, Coef: -1}}, solver.NoLower, 0)
				terms = append(terms, solver.Term{Var: av, Coef: 1})
			}
			// An empty day stays off.
			m.AddLinear(append(terms, solver.Term{Var: used, Coef: -1}), 0, solver.NoUpper)
			built.PatientDayUsed[PatientDayKey{Patient: patient.ID, Day: day}] = used
			indicators = append(indicators, used)
		}
	}
	return indicators
}

// encodeIdleGaps creates, per therapist and day, a busy indicator per block
// plus prefix/suffix activity chains, and one gap indicator per interior
// block. A block counts as a gap when the therapist is idle there but
// staffed somewhere both earlier and later the same day. The lunch break
// does not interrupt the span.
func encodeIdleGaps(m solver.Model, inst *model.Instance, built *Built) []solver.Var {
	blocks := inst.Grid.Blocks()
	var gaps []solver.Var
	for _, th := range inst.Therapists {
		for _, day := range timegrid.Days() {
			busy := make([]solver.Var, len(blocks))
			for i, block := range blocks {
				busy[i] = noVar
				staff := built.staffByTherapistCell[entityDayBlock{th.ID, day, block}]
				if len(staff) == 0 {
					continue
				}
				bv := m.NewBoolVar(labelf("busy_%s_%s_%d", th.ID, day, block))
				terms := make([]solver.Term, 0, len(staff)+1)
				for _, stv := range staff {
					m.AddLinear([]solver.Term{{Var: stv, Coef: 1}, {Var: bv, Coef: -1}}, solver.NoLower, 0)
					terms = append(terms, solver.Term{Var: stv, Coef: 1})
				}
				m.AddLinear(append(terms, solver.Term{Var: bv, Coef: -1}), 0, solver.NoUpper)
				busy[i] = bv
			}

			before := activityChain(m, busy, labelf("before_%s_%s", th.ID, day), false)
			after := activityChain(m, busy, labelf("after_%s_%s", th.ID, day), true)

			for i := 1; i < len(blocks)-1; i++ {
				if before[i-1] == noVar || after[i+1] == noVar {
					continue
				}
				gap := m.NewBoolVar(labelf("gap_%s_%s_%d", th.ID, day, blocks[i]))
				// gap >= before + after - busy - 1
				terms := []solver.Term{
					{Var: gap, Coef: 1},
					{Var: before[i-1], Coef: -1},
					{Var: after[i+1], Coef: -1},
				}
				if busy[i] != noVar {
					terms = append(terms, solver.Term{Var: busy[i], Coef: 1})
				}
				m.AddLinear(terms, -1, solver.NoUpper)
				built.IdleGaps = append(built.IdleGaps, gap)
				gaps = append(gaps, gap)
			}
		}
	}
	return gaps
}

// activityChain builds the running disjunction of busy indicators, forward
// or reversed. chain[i] is forced on whenever any covered block is busy;
// minimization keeps it off otherwise. Cells before the first busy
// candidate stay the constant false.
func activityChain(m solver.Model, busy []solver.Var, prefix string, reversed bool) []solver.Var {
	chain := make([]solver.Var, len(busy))
	prev := noVar
	for step := 0; step < len(busy); step++ {
		i := step
		if reversed {
			i = len(busy) - 1 - step
		}
		if busy[i] == noVar && prev == noVar {
			chain[i] = noVar
			continue
		}
		cv := m.NewBoolVar(labelf("%s_%d", prefix, i))
		if prev != noVar {
			m.AddLinear([]solver.Term{{Var: cv, Coef: 1}, {Var: prev, Coef: -1}}, 0, solver.NoUpper)
		}
		if busy[i] != noVar {
			m.AddLinear([]solver.Term{{Var: cv, Coef: 1}, {Var: busy[i], Coef: -1}}, 0, solver.NoUpper)
		}
		chain[i] = cv
		prev = cv
	}
	return chain
}

// EncodeSlackObjective minimizes the total slack of a soft-mode build.
func EncodeSlackObjective(m solver.Model, built *Built) {
	var obj []solver.Term
	for _, s := range built.Slacks {
		for _, v := range s.Vars {
			obj = append(obj, solver.Term{Var: v, Coef: 1})
		}
	}
	if len(obj) == 0 {
		return
	}
	m.Minimize(obj)
}
