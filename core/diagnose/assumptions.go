package diagnose

import (
	"context"
	"strings"

	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/problem"
	"github.com/narvik-labs/therasched/core/solver"
)

// runAssumptions rebuilds the model with every labeled constraint group
// behind an assumption literal and shrinks the assumption set to a minimal
// unsatisfiable subset. Engines with native core extraction drive the
// shrink; others fall back to one-at-a-time deletion.
func (r *Runner) runAssumptions(ctx context.Context, inst *model.Instance) []string {
	m := r.Factory()
	built, err := problem.Build(m, inst, problem.ModeAssumption)
	if err != nil {
		return []string{"diagnostic incomplete: could not rebuild the assumption model"}
	}

	active := append([]string{}, built.LabelOrder...)
	res, err := m.Solve(ctx, r.solveOpts(ctx, labelVars(built, active)))
	if err != nil {
		return []string{"diagnostic incomplete: assumption solve failed"}
	}
	switch res.Status {
	case solver.StatusInfeasible:
	case solver.StatusUnknown:
		return nil // budget ran out, withBudget appends the marker
	default:
		return []string{"anomaly: the relaxed assumption model is feasible, contradicting the primary infeasible result"}
	}

	if res.Core != nil {
		active = r.shrinkByCore(ctx, m, built, active, res.Core)
	} else {
		active = r.shrinkByDeletion(ctx, m, built, active)
	}
	if ctx.Err() != nil {
		return nil
	}
	if len(active) == 0 {
		return []string{"conflict: the structural model is infeasible without any optional constraint group"}
	}
	return []string{"conflict: " + strings.Join(active, " ∧ ")}
}

// shrinkByCore repeatedly replaces the assumption set with the engine's
// reported core until it stops shrinking.
func (r *Runner) shrinkByCore(ctx context.Context, m solver.Model, built *problem.Built, active []string, core []solver.Var) []string {
	active = labelsFor(built, core)
	for {
		if ctx.Err() != nil {
			return active
		}
		res, err := m.Solve(ctx, r.solveOpts(ctx, labelVars(built, active)))
		if err != nil || res.Status != solver.StatusInfeasible || res.Core == nil {
			return active
		}
		next := labelsFor(built, res.Core)
		if len(next) >= len(active) {
			return active
		}
		active = next
	}
}

// shrinkByDeletion removes one assumption at a time, keeping a removal only
// when the remainder stays infeasible.
func (r *Runner) shrinkByDeletion(ctx context.Context, m solver.Model, built *problem.Built, active []string) []string {
	for i := 0; i < len(active); {
		if ctx.Err() != nil {
			return active
		}
		trial := make([]string, 0, len(active)-1)
		trial = append(trial, active[:i]...)
		trial = append(trial, active[i+1:]...)
		res, err := m.Solve(ctx, r.solveOpts(ctx, labelVars(built, trial)))
		if err == nil && res.Status == solver.StatusInfeasible {
			active = trial
			continue
		}
		i++
	}
	return active
}

func labelVars(built *problem.Built, labels []string) []solver.Var {
	vars := make([]solver.Var, 0, len(labels))
	for _, label := range labels {
		vars = append(vars, built.Labels[label])
	}
	return vars
}

// labelsFor maps core literals back to their labels, preserving the
// builder's label order.
func labelsFor(built *problem.Built, core []solver.Var) []string {
	inCore := make(map[solver.Var]bool, len(core))
	for _, v := range core {
		inCore[v] = true
	}
	var labels []string
	for _, label := range built.LabelOrder {
		if inCore[built.Labels[label]] {
			labels = append(labels, label)
		}
	}
	return labels
}
