package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/narvik-labs/therasched/core/diagnose"
	"github.com/narvik-labs/therasched/core/events"
	"github.com/narvik-labs/therasched/core/logger"
	"github.com/narvik-labs/therasched/core/metrics"
	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/problem"
	"github.com/narvik-labs/therasched/core/solver"
	"github.com/narvik-labs/therasched/internal/eventbus"
)

// Engine runs scheduling requests: one model build, one solve, then either
// result extraction or the diagnostics hand-off. Each request owns its own
// model; an Engine is safe for concurrent use.
type Engine struct {
	factory solver.Factory
	weights problem.Weights
	cfg     SolverConfig
	log     logger.Logger
	sink    metrics.Sink
	bus     eventbus.EventBus
}

// New creates an Engine. A nil log, sink or bus is replaced by a no-op.
func New(factory solver.Factory, weights problem.Weights, cfg SolverConfig, log logger.Logger, sink metrics.Sink, bus eventbus.EventBus) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Engine{factory: factory, weights: weights, cfg: cfg, log: log, sink: sink, bus: bus}
}

// Schedule solves one validated instance. The returned error covers model
// build failures and solver faults only; infeasibility and timeouts are
// regular results.
func (e *Engine) Schedule(ctx context.Context, inst *model.Instance) (*Result, error) {
	runID := uuid.NewString()
	started := time.Now()
	e.publish(events.SolveStarted{
		RunID:      runID,
		Patients:   len(inst.Patients),
		Therapists: len(inst.Therapists),
		Rooms:      len(inst.Rooms),
	})
	e.log.Infof("run %s: building model (%d patients, %d therapists, %d rooms)",
		runID, len(inst.Patients), len(inst.Therapists), len(inst.Rooms))

	m := e.factory()
	built, err := problem.Build(m, inst, problem.ModeHard)
	if err != nil {
		e.log.Errorf("run %s: model build failed: %v", runID, err)
		return nil, fmt.Errorf("build model: %w", err)
	}
	problem.EncodeObjective(m, inst, built, e.weights)

	res, err := m.Solve(ctx, solver.Options{
		TimeLimit:     e.cfg.TimeLimit(),
		Deterministic: e.cfg.Deterministic,
		Workers:       e.cfg.Workers,
	})
	if err != nil {
		e.log.Errorf("run %s: solver fault: %v", runID, err)
		return nil, fmt.Errorf("solve: %w", err)
	}
	e.log.Infof("run %s: solver returned %s in %s", runID, res.Status, time.Since(started).Round(time.Millisecond))

	out := &Result{RunID: runID, SolverStatus: res.Status.String(), Sessions: []SessionRecord{}}
	switch res.Status {
	case solver.StatusOptimal, solver.StatusFeasible:
		out.Status = StatusSuccess
		out.Sessions = extractSessions(inst, built, res)
		if e.weights.PatientDaysWeight > 0 || e.weights.TherapistIdleGapWeight > 0 {
			objective := res.Objective
			out.ObjectiveValue = &objective
		}
	case solver.StatusInfeasible:
		out.Status = StatusFailed
		out.Message = "no feasible schedule exists for the given entities"
		out.Diagnostics = e.diagnose(ctx, inst, runID)
	case solver.StatusUnknown:
		out.Status = StatusTimeout
		out.SolverStatus = "TIMEOUT_NO_SOLUTION"
		out.Message = "time budget exhausted without a solution or an infeasibility proof"
	default:
		e.log.Errorf("run %s: solver status %s", runID, res.Status)
		return nil, fmt.Errorf("solve: engine reported %s", res.Status)
	}

	duration := time.Since(started)
	out.StartedAt = started
	out.FinishedAt = started.Add(duration)
	rec := metrics.SolveRecord{
		RunID:        runID,
		Status:       out.Status,
		SolverStatus: out.SolverStatus,
		Sessions:     len(out.Sessions),
		Duration:     duration,
		Time:         time.Now(),
	}
	if out.ObjectiveValue != nil {
		rec.Objective = *out.ObjectiveValue
		rec.HasObjective = true
	}
	if err := e.sink.RecordSolve(rec); err != nil {
		e.log.Warnf("run %s: metrics sink: %v", runID, err)
	}
	e.publish(events.SolveFinished{
		RunID:        runID,
		Status:       out.Status,
		SolverStatus: out.SolverStatus,
		Sessions:     len(out.Sessions),
		Duration:     duration,
	})
	return out, nil
}

// diagnose runs the three strategies on fresh models and reports their
// finding counts.
func (e *Engine) diagnose(ctx context.Context, inst *model.Instance, runID string) *Diagnostics {
	runner := &diagnose.Runner{
		Factory:       e.factory,
		Log:           e.log,
		Budget:        e.cfg.DiagnosticBudget(),
		Deterministic: e.cfg.Deterministic,
		Workers:       e.cfg.Workers,
	}
	findings := runner.Run(ctx, inst)
	for method, count := range map[string]int{
		"prechecks":   len(findings.Prechecks),
		"assumptions": len(findings.Assumptions),
		"soft":        len(findings.Soft),
	} {
		if err := e.sink.RecordDiagnostics(metrics.DiagnosticRecord{
			RunID: runID, Method: method, Findings: count, Time: time.Now(),
		}); err != nil {
			e.log.Warnf("run %s: metrics sink: %v", runID, err)
		}
		e.publish(events.DiagnosticsProduced{RunID: runID, Method: method, Findings: count})
	}
	return &Diagnostics{
		Soft:        findings.Soft,
		Prechecks:   findings.Prechecks,
		Assumptions: findings.Assumptions,
	}
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
