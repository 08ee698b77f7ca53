// Package app wires configuration, logging, metrics and the scheduling
// engine into one runnable service.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/narvik-labs/therasched/config"
	"github.com/narvik-labs/therasched/core/events"
	corelogger "github.com/narvik-labs/therasched/core/logger"
	coremetrics "github.com/narvik-labs/therasched/core/metrics"
	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/scheduler"
	"github.com/narvik-labs/therasched/core/timegrid"
	"github.com/narvik-labs/therasched/infra/cpsolver"
	"github.com/narvik-labs/therasched/infra/logger"
	"github.com/narvik-labs/therasched/infra/metrics"
	"github.com/narvik-labs/therasched/internal/eventbus"
)

// Service owns the scheduling engine and its observability plumbing.
type Service struct {
	engine      *scheduler.Engine
	grid        timegrid.Grid
	bus         *eventbus.Bus
	log         corelogger.Logger
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	grid, err := timegrid.New(cfg.Grid)
	if err != nil {
		return nil, fmt.Errorf("time grid: %w", err)
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(nil)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.Sink
	switch len(sinks) {
	case 0:
		sink = coremetrics.NopSink{}
	case 1:
		sink = sinks[0]
	default:
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	engine := scheduler.New(cpsolver.Factory, cfg.Objective, cfg.Solver, logger.New("engine"), sink, bus)

	svc := &Service{
		engine:      engine,
		grid:        grid,
		bus:         bus,
		log:         log,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}
	go svc.watchEvents(bus.Subscribe())
	return svc, nil
}

// Start launches the optional Prometheus endpoint. It returns immediately;
// the endpoint stops with the context.
func (s *Service) Start(ctx context.Context) {
	if !s.promEnabled {
		return
	}
	go func() {
		if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
			s.log.Errorf("prom server: %v", err)
		}
	}()
}

// Schedule validates a raw entity payload and runs one scheduling request.
// Validation failures and internal faults both surface as a failed result;
// only the former carries the cause, internal detail stays in the logs.
func (s *Service) Schedule(ctx context.Context, payload []byte) *scheduler.Result {
	var entities model.EntitiesPayload
	if err := json.Unmarshal(payload, &entities); err != nil {
		return failedResult("invalid input: " + err.Error())
	}
	inst, err := model.BuildInstance(entities, s.grid)
	if err != nil {
		var invalid *model.InvalidInputError
		if errors.As(err, &invalid) {
			return failedResult("invalid input: " + invalid.Reason)
		}
		s.log.Errorf("input validation: %v", err)
		return failedResult("invalid input")
	}

	result, err := s.engine.Schedule(ctx, inst)
	if err != nil {
		s.log.Errorf("scheduling request aborted: %v", err)
		return failedResult("internal scheduling error")
	}
	return result
}

// Validate checks a raw entity payload without solving.
func (s *Service) Validate(payload []byte) error {
	var entities model.EntitiesPayload
	if err := json.Unmarshal(payload, &entities); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if _, err := model.BuildInstance(entities, s.grid); err != nil {
		return err
	}
	return nil
}

// Close releases the event bus.
func (s *Service) Close() { s.bus.Close() }

func (s *Service) watchEvents(ch <-chan eventbus.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case events.SolveStarted:
			s.log.Debugw("solve started", map[string]any{
				"run_id": e.RunID, "patients": e.Patients, "therapists": e.Therapists, "rooms": e.Rooms,
			})
		case events.SolveFinished:
			s.log.Infof("run %s finished: %s (%s), %d session(s) in %s",
				e.RunID, e.Status, e.SolverStatus, e.Sessions, e.Duration.Round(time.Millisecond))
		case events.DiagnosticsProduced:
			s.log.Infof("run %s diagnostics: %s reported %d finding(s)", e.RunID, e.Method, e.Findings)
		}
	}
}

func failedResult(msg string) *scheduler.Result {
	now := time.Now()
	return &scheduler.Result{
		Status:     scheduler.StatusFailed,
		Message:    msg,
		Sessions:   []scheduler.SessionRecord{},
		StartedAt:  now,
		FinishedAt: now,
	}
}
