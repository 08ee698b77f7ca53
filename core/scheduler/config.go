package scheduler

import (
	"fmt"
	"time"
)

// SolverConfig controls the primary solve and the diagnostic sub-budgets.
type SolverConfig struct {
	// TimeLimitSeconds bounds the primary solve. Each diagnostic strategy
	// gets a third of it as its own budget.
	TimeLimitSeconds int  `json:"time_limit_seconds"`
	Deterministic    bool `json:"deterministic"`
	// Workers is passed through to the engine. Zero lets it decide.
	Workers int `json:"workers"`
}

// SetDefaults applies the default solve budget.
func (c *SolverConfig) SetDefaults() {
	if c.TimeLimitSeconds == 0 {
		c.TimeLimitSeconds = 30
	}
}

// Validate rejects unusable values.
func (c SolverConfig) Validate() error {
	if c.TimeLimitSeconds <= 0 {
		return fmt.Errorf("solver: time_limit_seconds must be positive")
	}
	if c.Workers < 0 {
		return fmt.Errorf("solver: workers must not be negative")
	}
	return nil
}

// TimeLimit returns the primary solve budget as a duration.
func (c SolverConfig) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds) * time.Second
}

// DiagnosticBudget returns the per-strategy diagnostic time allowance.
func (c SolverConfig) DiagnosticBudget() time.Duration {
	return c.TimeLimit() / 3
}
