package cho

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/solver"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/utils"
)

// ErrInvalidInput reports a run input the simulator cannot execute.
var ErrInvalidInput = errors.New("invalid run input")

// Options configures a Simulator.
type Options struct {
	Solver solver.Options

	// Subdivisions is the number of integrator output intervals per
	// sampling interval. Zero picks a spacing of about half an hour.
	Subdivisions int
}

// DefaultOptions returns the solver defaults with an automatic output grid.
func DefaultOptions() Options {
	return Options{Solver: solver.DefaultOptions()}
}

// Simulator executes the growth model for one set of kinetic parameters.
// It holds no per-run state and is safe for concurrent use.
type Simulator struct {
	params models.InputParameters
	opts   Options
}

// New validates the parameters and returns a Simulator over a private copy
// of them.
func New(params models.InputParameters, opts Options) (*Simulator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if opts.Subdivisions < 0 {
		return nil, fmt.Errorf("subdivisions must be non-negative, got %d", opts.Subdivisions)
	}
	return &Simulator{params: params, opts: opts}, nil
}

// Params returns a copy of the simulator's parameters.
func (s *Simulator) Params() models.InputParameters {
	return s.params
}

// Horizon is the simulated duration in hours.
func (s *Simulator) Horizon() float64 {
	return float64(s.params.Ndays) * 24
}

func (s *Simulator) subdivisions() int {
	if s.opts.Subdivisions > 0 {
		return s.opts.Subdivisions
	}
	return int(math.Max(1, math.Ceil(48/float64(s.params.Nsamples))))
}

// Execute integrates one run over Ndays and returns the state and auxiliary
// quantities sampled Nsamples times per day, keyed by name, with the
// integrator diagnostics. Integration failures are returned unchanged.
func (s *Simulator) Execute(ctx context.Context, in models.RunInput) (*models.Execution, error) {
	if err := in.Batch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.FeedRate == nil || in.Temp == nil {
		return nil, fmt.Errorf("%w: feed rate and temperature signals are required", ErrInvalidInput)
	}
	if in.Feed.Glc < 0 || in.Feed.Gln < 0 {
		return nil, fmt.Errorf("%w: feed concentrations must be non-negative", ErrInvalidInput)
	}

	// per-run copy: the feed medium belongs to the run, not the simulator
	params := s.params
	params.CglcFeed = in.Feed.Glc
	params.CglnFeed = in.Feed.Gln

	sub := s.subdivisions()
	intervals := params.Ndays * params.Nsamples
	tspan := utils.Linspace(0, s.Horizon(), intervals*sub+1)

	res, err := solver.Solve(ctx, solver.Problem{
		Params:      &params,
		Initial:     in.Batch.InitialState(),
		Derivative:  Derivative,
		Auxiliary:   Auxiliary,
		TSpan:       tspan,
		Feed:        in.FeedRate,
		Temp:        in.Temp,
		Breakpoints: in.Breakpoints,
	}, s.opts.Solver)
	if err != nil {
		return nil, err
	}

	ds := make(models.Dataset, 1+models.NumStates+NumAux)
	times := make([]float64, intervals+1)
	for j := range times {
		times[j] = res.T[j*sub]
	}
	ds[models.TimeKey] = times
	for i, name := range models.StateNames {
		col := make([]float64, len(times))
		for j := range col {
			col[j] = res.States.At(j*sub, i)
		}
		ds[name] = col
	}
	for i, name := range AuxNames {
		col := make([]float64, len(times))
		for j := range col {
			col[j] = res.Aux.At(j*sub, i)
		}
		ds[name] = col
	}

	return &models.Execution{
		Dataset: ds,
		Solver: &models.SolverSummary{
			Steps:     res.Stats.Steps,
			Rejected:  res.Stats.Rejected,
			FuncEvals: res.Stats.FuncEvals,
			JacEvals:  res.Stats.JacEvals,
			Warnings:  res.Stats.Warnings,
		},
	}, nil
}
