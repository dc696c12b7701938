package models

import (
	"time"
)

// RunStatus represents the status of an experiment run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// ErrorKind classifies why an experiment failed
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindConfig      ErrorKind = "configuration"
	ErrorKindIntegration ErrorKind = "integration"
	ErrorKindContract    ErrorKind = "contract"
	ErrorKindCancelled   ErrorKind = "cancelled"
	ErrorKindInternal    ErrorKind = "internal"
)

// ExperimentRun is the externally visible record of one experiment evaluation
type ExperimentRun struct {
	ID        string             `json:"id"`
	Status    RunStatus          `json:"status"`
	Overrides map[string]float64 `json:"overrides,omitempty"`
	Settings  map[string]float64 `json:"settings,omitempty"`
	Objective string             `json:"objective,omitempty"`
	Score     *float64           `json:"score,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	StartedAt time.Time          `json:"started_at,omitempty"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Duration  time.Duration      `json:"duration,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorKind ErrorKind          `json:"error_kind,omitempty"`
	Solver    *SolverSummary     `json:"solver,omitempty"`
}

// SolverSummary is the subset of integrator diagnostics reported with a run
type SolverSummary struct {
	Steps     int      `json:"steps"`
	Rejected  int      `json:"rejected"`
	FuncEvals int      `json:"func_evals"`
	JacEvals  int      `json:"jac_evals"`
	Warnings  []string `json:"warnings,omitempty"`
}
