package solver

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RHS evaluates the right-hand side y' = f(t, y) into dydt.
type RHS func(t float64, y, dydt []float64)

// Stats are the integrator diagnostics of one run.
type Stats struct {
	Steps       int      `json:"steps"` // attempted steps, accepted or not
	Accepted    int      `json:"accepted"`
	Rejected    int      `json:"rejected"`
	FuncEvals   int      `json:"func_evals"`
	JacEvals    int      `json:"jac_evals"`
	LUDecomps   int      `json:"lu_decomps"`
	MinStepUsed float64  `json:"min_step_used"`
	MaxStepUsed float64  `json:"max_step_used"`
	LastTime    float64  `json:"last_time"`
	Warnings    []string `json:"warnings,omitempty"`
}

const maxWarnings = 32

func (s *Stats) warn(format string, args ...any) {
	if len(s.Warnings) == maxWarnings {
		s.Warnings = append(s.Warnings, "further warnings suppressed")
	}
	if len(s.Warnings) > maxWarnings {
		return
	}
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Coefficients of the Rosenbrock 2(3) pair of Shampine and Reichelt.
const (
	rosD   = 1 / (2 + math.Sqrt2)
	rosE32 = 6 + math.Sqrt2
)

// Forward-difference step on the scaled state.
const jacobianStep = 1e-7

type integrator struct {
	f     RHS
	n     int
	opts  Options
	stats Stats

	jac, w *mat.Dense
	lu     mat.LU

	scale, z, yj        []float64
	f0, f1, f2          []float64
	k1, k2, k3, rhs     []float64
	ynew, ytmp          []float64
	k1v, k2v, k3v, rhsv *mat.VecDense

	// limit caps the time of the last stage so that a step ending on a
	// breakpoint sees the left limit of the controls.
	limit     float64
	nonFinite bool
}

func newIntegrator(f RHS, n int, opts Options) *integrator {
	in := &integrator{
		f:     f,
		n:     n,
		opts:  opts,
		jac:   mat.NewDense(n, n, nil),
		w:     mat.NewDense(n, n, nil),
		scale: make([]float64, n),
		z:     make([]float64, n),
		yj:    make([]float64, n),
		f0:    make([]float64, n),
		f1:    make([]float64, n),
		f2:    make([]float64, n),
		k1:    make([]float64, n),
		k2:    make([]float64, n),
		k3:    make([]float64, n),
		rhs:   make([]float64, n),
		ynew:  make([]float64, n),
		ytmp:  make([]float64, n),
	}
	in.k1v = mat.NewVecDense(n, in.k1)
	in.k2v = mat.NewVecDense(n, in.k2)
	in.k3v = mat.NewVecDense(n, in.k3)
	in.rhsv = mat.NewVecDense(n, in.rhs)
	return in
}

// Integrate advances y0 from tspan[0] and returns the solution at every
// point of tspan as the rows of a len(tspan)×len(y0) matrix.
//
// The method is a linearly implicit (Rosenbrock) 2(3) pair with a numerical
// Jacobian, suitable for stiff systems. Steps never cross an element of
// tspan or of breakpoints: they are shortened to land on it exactly, so a
// discontinuity listed in breakpoints is never straddled. The explicit time
// dependence of f is assumed to be piecewise constant between breakpoints.
func Integrate(ctx context.Context, f RHS, y0, tspan, breakpoints []float64, opts Options) (*mat.Dense, Stats, error) {
	if err := checkSpan(tspan); err != nil {
		return nil, Stats{}, err
	}
	n := len(y0)
	if n == 0 {
		return nil, Stats{}, fmt.Errorf("%w: empty initial state", ErrInvalidProblem)
	}
	if !floatsFinite(y0) {
		return nil, Stats{}, fmt.Errorf("%w: initial state is not finite", ErrInvalidProblem)
	}

	t0, tEnd := tspan[0], tspan[len(tspan)-1]
	opts = opts.withDefaults(tEnd - t0)
	in := newIntegrator(f, n, opts)
	return in.run(ctx, y0, tspan, sortedBreakpoints(breakpoints, t0, tEnd))
}

func (in *integrator) run(ctx context.Context, y0, tspan, bps []float64) (*mat.Dense, Stats, error) {
	y := append([]float64(nil), y0...)
	t := tspan[0]
	out := mat.NewDense(len(tspan), in.n, nil)
	out.SetRow(0, y)

	fail := func(err error) (*mat.Dense, Stats, error) {
		in.stats.LastTime = t
		return nil, in.stats, &IntegrationError{Time: t, State: append([]float64(nil), y...), Stats: in.stats, Err: err}
	}

	in.f(t, y, in.f0)
	in.stats.FuncEvals++
	if !floatsFinite(in.f0) {
		return fail(ErrNonFinite)
	}

	hmax := in.opts.MaxStep
	h := in.opts.InitialStep
	if h <= 0 {
		h = in.initialStep(t, y, hmax)
	}

	bi := 0
	jacCurrent := false
	for k := 1; k < len(tspan); k++ {
		target := tspan[k]
		for t < target {
			if err := ctx.Err(); err != nil {
				return fail(fmt.Errorf("%w: %w", ErrCancelled, err))
			}

			stop := target
			for bi < len(bps) && bps[bi] <= t {
				bi++
			}
			atBreak := false
			if bi < len(bps) && bps[bi] <= stop {
				stop = bps[bi]
				atBreak = true
			}

			hmin := math.Max(in.opts.MinStep, 16*epsilon*math.Max(math.Abs(t), 1))
			h = math.Min(h, hmax)
			hFree := h
			last := false
			if t+1.1*h >= stop {
				h = stop - t
				last = true
			}

			if !jacCurrent {
				in.jacobian(t, y)
				jacCurrent = true
			}

			rejected := 0
			for {
				if in.stats.Steps >= in.opts.MaxSteps {
					return fail(fmt.Errorf("%w: %d steps", ErrStepBudget, in.opts.MaxSteps))
				}
				in.stats.Steps++

				in.limit = math.Inf(1)
				if last && atBreak {
					in.limit = math.Nextafter(stop, math.Inf(-1))
				}
				errNorm, ok := in.attempt(t, h, y)
				if ok && errNorm <= 1 {
					if last {
						t = stop
					} else {
						t += h
					}
					copy(y, in.ynew)
					if last && atBreak {
						// the controls jump here; restart from the right limit
						in.f(t, y, in.f0)
						in.stats.FuncEvals++
						if !floatsFinite(in.f0) {
							return fail(ErrNonFinite)
						}
					} else {
						copy(in.f0, in.f2)
					}
					jacCurrent = false
					in.accepted(h)

					next := h * growth(errNorm)
					if last && hFree > next {
						next = hFree
					}
					h = next
					break
				}

				in.stats.Rejected++
				rejected++
				if rejected == in.opts.WarnRejections {
					in.stats.warn("excessive step reductions near t=%g (%d consecutive rejections)", t, rejected)
				}
				if rejected >= in.opts.MaxRejections {
					return fail(fmt.Errorf("%w: %d consecutive rejections", ErrStepBudget, rejected))
				}
				h *= shrink(errNorm, ok)
				last = false
				if h < hmin {
					if in.nonFinite {
						return fail(ErrNonFinite)
					}
					return fail(fmt.Errorf("%w: h=%g < %g", ErrStepTooSmall, h, hmin))
				}
			}
		}
		out.SetRow(k, y)
	}
	in.stats.LastTime = t
	return out, in.stats, nil
}

// attempt performs one Rosenbrock step of size h from (t, y) into ynew and
// f2 and returns the scaled error norm. ok is false when the step produced
// non-finite values or the iteration matrix could not be solved.
func (in *integrator) attempt(t, h float64, y []float64) (errNorm float64, ok bool) {
	n := in.n
	in.nonFinite = false

	// W = I - h*d*J
	in.w.Scale(-h*rosD, in.jac)
	for i := 0; i < n; i++ {
		in.w.Set(i, i, in.w.At(i, i)+1)
	}
	in.lu.Factorize(in.w)
	in.stats.LUDecomps++

	copy(in.rhs, in.f0)
	if err := in.lu.SolveVecTo(in.k1v, false, in.rhsv); err != nil {
		return math.Inf(1), false
	}

	floats.AddScaledTo(in.ytmp, y, 0.5*h, in.k1)
	in.f(t+0.5*h, in.ytmp, in.f1)
	floats.SubTo(in.rhs, in.f1, in.k1)
	if err := in.lu.SolveVecTo(in.k2v, false, in.rhsv); err != nil {
		return math.Inf(1), false
	}
	floats.Add(in.k2, in.k1)

	floats.AddScaledTo(in.ynew, y, h, in.k2)
	in.f(math.Min(t+h, in.limit), in.ynew, in.f2)
	in.stats.FuncEvals += 2
	if !floatsFinite(in.ynew) || !floatsFinite(in.f2) || !floatsFinite(in.f1) {
		in.nonFinite = true
		return math.Inf(1), false
	}

	for i := 0; i < n; i++ {
		in.rhs[i] = in.f2[i] - rosE32*(in.k2[i]-in.f1[i]) - 2*(in.k1[i]-in.f0[i])
	}
	if err := in.lu.SolveVecTo(in.k3v, false, in.rhsv); err != nil {
		return math.Inf(1), false
	}

	var sum float64
	for i := 0; i < n; i++ {
		e := h / 6 * (in.k1[i] - 2*in.k2[i] + in.k3[i])
		sc := in.opts.AbsTol + in.opts.RelTol*math.Max(math.Abs(y[i]), math.Abs(in.ynew[i]))
		sum += (e / sc) * (e / sc)
	}
	errNorm = math.Sqrt(sum / float64(n))
	if math.IsNaN(errNorm) {
		in.nonFinite = true
		return math.Inf(1), false
	}
	return errNorm, true
}

// jacobian approximates df/dy at (t, y) by forward differences on the
// state scaled to unit magnitude, so cell densities of order 1e9 and volumes
// of order 1e-2 are perturbed by the same relative amount.
func (in *integrator) jacobian(t float64, y []float64) {
	for i, v := range y {
		in.scale[i] = math.Max(math.Abs(v), 1)
		in.z[i] = v / in.scale[i]
	}
	fd.Jacobian(in.jac, func(dst, z []float64) {
		for i := range z {
			in.yj[i] = z[i] * in.scale[i]
		}
		in.f(t, in.yj, dst)
	}, in.z, &fd.JacobianSettings{
		Formula:     fd.Forward,
		OriginValue: in.f0,
		Step:        jacobianStep,
	})
	for j := 0; j < in.n; j++ {
		s := in.scale[j]
		for i := 0; i < in.n; i++ {
			in.jac.Set(i, j, in.jac.At(i, j)/s)
		}
	}
	in.stats.JacEvals++
	in.stats.FuncEvals += in.n
}

// initialStep estimates a first step from the size of y, f(y) and a crude
// second-derivative probe.
func (in *integrator) initialStep(t float64, y []float64, hmax float64) float64 {
	n := in.n
	var dnf, dny float64
	for i := 0; i < n; i++ {
		rc := in.opts.AbsTol + in.opts.RelTol*math.Abs(y[i])
		dnf += (in.f0[i] / rc) * (in.f0[i] / rc)
		dny += (y[i] / rc) * (y[i] / rc)
	}

	var h float64
	if math.Min(dnf, dny) < 1e-10 {
		h = 1e-6
	} else {
		h = 1e-2 * math.Sqrt(dny/dnf)
	}
	h = math.Min(h, hmax)

	// explicit Euler probe
	floats.AddScaledTo(in.ytmp, y, h, in.f0)
	in.f(t+h, in.ytmp, in.f1)
	in.stats.FuncEvals++

	var der2 float64
	for i := 0; i < n; i++ {
		rc := in.opts.AbsTol + in.opts.RelTol*math.Abs(y[i])
		d := (in.f1[i] - in.f0[i]) / rc
		der2 += d * d
	}
	der2 = math.Sqrt(der2) / h
	der12 := math.Max(der2, math.Sqrt(dnf))

	var h1 float64
	if der12 <= 1e-15 || math.IsNaN(der12) {
		h1 = math.Max(1e-6, h*1e-3)
	} else {
		h1 = math.Pow(1e-2/der12, 1.0/3.0)
	}
	return math.Min(1e2*h, math.Min(h1, hmax))
}

func (in *integrator) accepted(h float64) {
	in.stats.Accepted++
	if in.stats.MinStepUsed == 0 || h < in.stats.MinStepUsed {
		in.stats.MinStepUsed = h
	}
	if h > in.stats.MaxStepUsed {
		in.stats.MaxStepUsed = h
	}
}

const epsilon = 2.220446049250313e-16

// growth is the step multiplier after an accepted step.
func growth(errNorm float64) float64 {
	if errNorm == 0 {
		return 5
	}
	return math.Min(5, 0.9*math.Pow(errNorm, -1.0/3.0))
}

// shrink is the step multiplier after a rejected step.
func shrink(errNorm float64, ok bool) float64 {
	if !ok || math.IsInf(errNorm, 1) {
		return 0.25
	}
	return math.Max(0.2, 0.9*math.Pow(errNorm, -1.0/3.0))
}

func checkSpan(tspan []float64) error {
	if len(tspan) < 2 {
		return fmt.Errorf("%w: time span needs at least two points, got %d", ErrInvalidProblem, len(tspan))
	}
	for i, v := range tspan {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: time span point %d is not finite", ErrInvalidProblem, i)
		}
		if i > 0 && v <= tspan[i-1] {
			return fmt.Errorf("%w: time span must be strictly increasing at index %d", ErrInvalidProblem, i)
		}
	}
	return nil
}

func sortedBreakpoints(bps []float64, t0, tEnd float64) []float64 {
	out := make([]float64, 0, len(bps))
	for _, b := range bps {
		if b > t0 && b < tEnd {
			out = append(out, b)
		}
	}
	sort.Float64s(out)
	return out
}

func floatsFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
