package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"gonum.org/v1/gonum/mat"
)

// DerivativeFunc writes dy/dt into dydt. p is the flattened parameter
// vector in models.ParameterNames order.
type DerivativeFunc func(t float64, y, p []float64, feed, temp models.Signal, dydt []float64)

// AuxiliaryFunc returns the auxiliary quantities at one point. The length
// of the returned slice must be the same for every call.
type AuxiliaryFunc func(t float64, y []float64, params *models.InputParameters, feed, temp models.Signal) []float64

// Problem is one initial-value problem over the growth state.
type Problem struct {
	Params     *models.InputParameters
	Initial    models.State
	Derivative DerivativeFunc
	Auxiliary  AuxiliaryFunc // optional

	// TSpan are the output times, strictly increasing. The first element is
	// the initial time.
	TSpan []float64

	Feed, Temp models.Signal

	// Breakpoints are times at which Feed or Temp jump. Steps are shortened
	// to land on them.
	Breakpoints []float64
}

// Result holds the solution at every output time.
type Result struct {
	T      []float64
	States *mat.Dense // len(T) × models.NumStates
	Aux    *mat.Dense // len(T) × N, nil without an Auxiliary function
	Stats  Stats
}

// State returns row i of the state trajectory.
func (r *Result) State(i int) models.State {
	var s models.State
	mat.Row(s[:], i, r.States)
	return s
}

// Solve integrates the problem and evaluates the auxiliary quantities along
// the returned trajectory.
func Solve(ctx context.Context, p Problem, opts Options) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	params := p.Params.Values()
	feed, temp := p.Feed, p.Temp
	rhs := func(t float64, y, dydt []float64) {
		p.Derivative(t, y, params, feed, temp, dydt)
	}

	states, stats, err := Integrate(ctx, rhs, p.Initial.Slice(), p.TSpan, p.Breakpoints, opts)
	if err != nil {
		var ie *IntegrationError
		if errors.As(err, &ie) {
			logger.Debug("integration failed",
				"time", ie.Time,
				"steps", ie.Stats.Steps,
				"rejected", ie.Stats.Rejected,
				"error", ie.Err)
		}
		return nil, err
	}

	for _, w := range stats.Warnings {
		logger.Warn("integrator warning", "warning", w)
	}
	logger.Debug("integration complete",
		"points", len(p.TSpan),
		"steps", stats.Steps,
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"func_evals", stats.FuncEvals,
		"jac_evals", stats.JacEvals,
		"min_step", stats.MinStepUsed,
		"max_step", stats.MaxStepUsed)

	res := &Result{
		T:      append([]float64(nil), p.TSpan...),
		States: states,
		Stats:  stats,
	}
	if p.Auxiliary != nil {
		aux, err := auxiliary(p, states)
		if err != nil {
			return nil, err
		}
		res.Aux = aux
	}
	return res, nil
}

func auxiliary(p Problem, states *mat.Dense) (*mat.Dense, error) {
	rows := len(p.TSpan)
	y := make([]float64, models.NumStates)
	var out *mat.Dense
	width := -1
	for i, t := range p.TSpan {
		mat.Row(y, i, states)
		a := p.Auxiliary(t, y, p.Params, p.Feed, p.Temp)
		if width < 0 {
			width = len(a)
			if width == 0 {
				return nil, fmt.Errorf("%w: auxiliary function returned no values", ErrModelContract)
			}
			out = mat.NewDense(rows, width, nil)
		}
		if len(a) != width {
			return nil, fmt.Errorf("%w: auxiliary length changed from %d to %d at t=%g", ErrModelContract, width, len(a), t)
		}
		out.SetRow(i, a)
	}
	return out, nil
}

func (p Problem) validate() error {
	switch {
	case p.Params == nil:
		return fmt.Errorf("%w: no parameters", ErrInvalidProblem)
	case p.Derivative == nil:
		return fmt.Errorf("%w: no derivative function", ErrInvalidProblem)
	case p.Feed == nil || p.Temp == nil:
		return fmt.Errorf("%w: feed and temperature signals are required", ErrInvalidProblem)
	}
	if err := checkSpan(p.TSpan); err != nil {
		return err
	}
	if !p.Initial.IsFinite() {
		return fmt.Errorf("%w: initial state is not finite", ErrInvalidProblem)
	}
	return nil
}
