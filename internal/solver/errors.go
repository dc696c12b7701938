package solver

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegration is matched by every IntegrationError.
	ErrIntegration = errors.New("integration failure")

	ErrNonFinite    = errors.New("state became NaN or Inf")
	ErrStepTooSmall = errors.New("step size fell below the minimum")
	ErrStepBudget   = errors.New("step budget exhausted")
	ErrCancelled    = errors.New("integration cancelled")

	// ErrInvalidProblem reports a malformed request (empty or unordered time
	// span, missing functions, non-finite initial state).
	ErrInvalidProblem = errors.New("invalid integration problem")

	// ErrModelContract reports a model function that broke its declared
	// shape, e.g. an auxiliary vector whose length changes between calls.
	ErrModelContract = errors.New("model contract violation")
)

// IntegrationError is a fatal numerical failure. Time and State are the
// last point at which the solution was still valid.
type IntegrationError struct {
	Time  float64
	State []float64
	Stats Stats
	Err   error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration failure at t=%g after %d steps: %v", e.Time, e.Stats.Steps, e.Err)
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrIntegration) match any IntegrationError.
func (e *IntegrationError) Is(target error) bool {
	return target == ErrIntegration
}
