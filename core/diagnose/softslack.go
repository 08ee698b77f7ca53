package diagnose

import (
	"context"
	"fmt"
	"sort"

	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/problem"
	"github.com/narvik-labs/therasched/core/solver"
)

// runSoftSlack rebuilds the model with coverage and capacity constraints
// relaxed by nonnegative slack, minimizes the total slack, and reports each
// constraint with nonzero slack as a bottleneck, largest first.
func (r *Runner) runSoftSlack(ctx context.Context, inst *model.Instance) []string {
	m := r.Factory()
	built, err := problem.Build(m, inst, problem.ModeSoft)
	if err != nil {
		return []string{"diagnostic incomplete: could not rebuild the relaxed model"}
	}
	problem.EncodeSlackObjective(m, built)

	res, err := m.Solve(ctx, r.solveOpts(ctx, nil))
	if err != nil {
		return []string{"diagnostic incomplete: relaxed solve failed"}
	}
	if !res.Status.HasSolution() {
		if res.Status == solver.StatusUnknown {
			return nil // budget ran out, withBudget appends the marker
		}
		return []string{"anomaly: the slack-relaxed model is itself infeasible"}
	}

	type bottleneck struct {
		magnitude int
		finding   string
	}
	var bottlenecks []bottleneck
	total := 0
	for _, s := range built.Slacks {
		magnitude := 0
		for _, v := range s.Vars {
			magnitude += res.Value(v)
		}
		total += magnitude
		if magnitude > 0 {
			bottlenecks = append(bottlenecks, bottleneck{magnitude, fmt.Sprintf(s.Format, magnitude)})
		}
	}

	if total == 0 {
		return []string{"anomaly: minimal total slack is zero, contradicting the primary infeasible result"}
	}

	sort.SliceStable(bottlenecks, func(i, j int) bool {
		return bottlenecks[i].magnitude > bottlenecks[j].magnitude
	})
	findings := make([]string, 0, len(bottlenecks))
	for _, b := range bottlenecks {
		findings = append(findings, b.finding)
	}
	return findings
}
