// Package diagnose explains a confirmed infeasible scheduling instance.
// Three strategies run concurrently on independently derived models:
// data-only prechecks, an assumption-based minimal conflict search, and a
// slack-relaxed bottleneck ranking. None of them touches the failed primary
// solve's state.
package diagnose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/narvik-labs/therasched/core/logger"
	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/solver"
)

// maxFindings bounds every strategy's finding list.
const maxFindings = 20

// Findings carries the three strategies' results, keyed by method.
type Findings struct {
	Prechecks   []string
	Assumptions []string
	Soft        []string
}

// Runner executes the three diagnostic strategies.
type Runner struct {
	Factory solver.Factory
	Log     logger.Logger
	// Budget is the time allowance of each individual strategy.
	Budget        time.Duration
	Deterministic bool
	Workers       int
}

// Run executes all three strategies concurrently and collects their
// findings. Call it only after the primary solve returned infeasible.
func (r *Runner) Run(ctx context.Context, inst *model.Instance) Findings {
	log := r.Log
	if log == nil {
		log = logger.NopLogger{}
	}

	var out Findings
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		out.Prechecks = r.withBudget(ctx, "prechecks", func(ctx context.Context) []string {
			return runPrechecks(inst)
		})
		log.Debugf("prechecks produced %d finding(s)", len(out.Prechecks))
	}()
	go func() {
		defer wg.Done()
		out.Assumptions = r.withBudget(ctx, "assumptions", func(ctx context.Context) []string {
			return r.runAssumptions(ctx, inst)
		})
		log.Debugf("assumption core produced %d finding(s)", len(out.Assumptions))
	}()
	go func() {
		defer wg.Done()
		out.Soft = r.withBudget(ctx, "soft", func(ctx context.Context) []string {
			return r.runSoftSlack(ctx, inst)
		})
		log.Debugf("soft slack produced %d finding(s)", len(out.Soft))
	}()

	wg.Wait()
	return out
}

// withBudget runs one strategy under its own deadline and appends the
// incomplete marker when the budget ran out before it finished.
func (r *Runner) withBudget(ctx context.Context, name string, fn func(context.Context) []string) []string {
	budget := r.Budget
	if budget <= 0 {
		budget = 10 * time.Second
	}
	sub, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	findings := fn(sub)
	if sub.Err() != nil {
		findings = append(findings, fmt.Sprintf("diagnostic incomplete: %s exceeded time budget", name))
	}
	return capFindings(findings)
}

func (r *Runner) solveOpts(ctx context.Context, assumptions []solver.Var) solver.Options {
	opts := solver.Options{
		Deterministic: r.Deterministic,
		Workers:       r.Workers,
		Assumptions:   assumptions,
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.TimeLimit = time.Until(deadline)
	}
	return opts
}

// capFindings truncates a finding list to maxFindings with a count tail.
func capFindings(findings []string) []string {
	if len(findings) <= maxFindings {
		return findings
	}
	capped := append([]string{}, findings[:maxFindings]...)
	return append(capped, fmt.Sprintf("...and %d more", len(findings)-maxFindings))
}
