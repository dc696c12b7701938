// Package improvement searches the factor space for better operating
// strategies.
package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/utils"
	"gonum.org/v1/gonum/optimize"
)

// FailurePenalty is the cost assigned to an experiment that could not be
// evaluated, so the simplex moves away from it.
const FailurePenalty = 1e9

// Evaluator scores fully specified settings. *experiment.Runner satisfies it.
type Evaluator interface {
	RunSettings(ctx context.Context, s control.Settings) (*experiment.Result, error)
	Objective() experiment.ObjectiveFunction
}

// Config configures an Optimizer.
type Config struct {
	// Factors are the keys varied by the search. Every other factor keeps
	// its value from Base over the defaults.
	Factors []string
	Base    map[string]float64

	MaxEvaluations int
	MaxIterations  int

	// InitialStep is the simplex size as a fraction of each factor range.
	InitialStep float64

	Convergence *ConvergenceConfig

	// Progress, if set, is called with the best point after every
	// iteration.
	Progress func(OptimizationStep)

	Logger *slog.Logger
}

// DefaultFactors are searched when Config.Factors is empty.
var DefaultFactors = []string{
	control.KeyFeedGlc,
	control.KeyProdStartEFT,
	control.KeyProdTemp,
	control.FeedKey(4),
	control.FeedKey(5),
}

// OptimizationStep is the best point after one simplex iteration.
type OptimizationStep struct {
	Iteration int     `json:"iteration"`
	Cost      float64 `json:"cost"` // lower is better
	Score     float64 `json:"score"`
}

// Evaluation is one experiment run during a search.
type Evaluation struct {
	Index     int                `json:"index"`
	Overrides map[string]float64 `json:"overrides"`
	Score     float64            `json:"score"`
	Error     string             `json:"error,omitempty"`
}

// OptimizationResult contains the final optimization result
type OptimizationResult struct {
	ID            string             `json:"id"`
	Objective     string             `json:"objective"`
	BestOverrides map[string]float64 `json:"best_overrides"`
	BestSettings  map[string]float64 `json:"best_settings"`
	BestScore     float64            `json:"best_score"`
	Evaluations   int                `json:"evaluations"`
	Failures      int                `json:"failures"`
	Iterations    int                `json:"iterations"`
	Converged     bool               `json:"converged"`
	Reason        string             `json:"reason"`
	History       []OptimizationStep `json:"history"`
	Trials        []Evaluation       `json:"trials"`
	best          *experiment.Result
}

// Best returns the experiment result of the best evaluation.
func (r *OptimizationResult) Best() *experiment.Result {
	return r.best
}

// Optimizer runs a Nelder-Mead search over a subset of factors. Each
// factor is mapped onto [0, 1] across its documented range so that the
// simplex treats feed volumes and temperatures alike.
type Optimizer struct {
	eval    Evaluator
	cfg     Config
	base    control.Settings
	factors []control.Factor
	log     *slog.Logger
}

// NewOptimizer validates the configuration against the factor table.
func NewOptimizer(eval Evaluator, cfg Config) (*Optimizer, error) {
	if eval == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	base, err := control.Merge(cfg.Base)
	if err != nil {
		return nil, fmt.Errorf("invalid base settings: %w", err)
	}

	keys := cfg.Factors
	if len(keys) == 0 {
		keys = DefaultFactors
	}
	seen := make(map[string]bool, len(keys))
	factors := make([]control.Factor, 0, len(keys))
	for _, k := range keys {
		f, ok := control.LookupFactor(k)
		if !ok {
			return nil, &control.ConfigError{Key: k, Reason: "unknown factor"}
		}
		if _, ok := base.Get(k); !ok {
			return nil, &control.ConfigError{Key: k, Reason: fmt.Sprintf("beyond the %d-day schedule", base.Days())}
		}
		if seen[k] {
			return nil, &control.ConfigError{Key: k, Reason: "listed twice"}
		}
		seen[k] = true
		factors = append(factors, f)
	}

	if cfg.MaxEvaluations <= 0 {
		cfg.MaxEvaluations = 200
	}
	if cfg.InitialStep <= 0 || cfg.InitialStep > 1 {
		cfg.InitialStep = 0.1
	}
	if cfg.Convergence == nil {
		cfg.Convergence = DefaultConvergenceConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default
	}
	return &Optimizer{eval: eval, cfg: cfg, base: base, factors: factors, log: log}, nil
}

// settingsAt maps a point in normalised coordinates onto settings.
func (o *Optimizer) settingsAt(x []float64) (control.Settings, map[string]float64) {
	s := o.base.Clone()
	ov := make(map[string]float64, len(x))
	for i, f := range o.factors {
		v := utils.Lerp(f.Lower, f.Upper, x[i])
		// keys were checked against base in NewOptimizer
		_ = s.Set(f.Key, v)
		ov[f.Key] = v
	}
	return s, ov
}

// Optimize runs the search until convergence, an evaluation or iteration
// limit, or cancellation. On cancellation the best result so far is
// returned together with the context error.
func (o *Optimizer) Optimize(ctx context.Context) (*OptimizationResult, error) {
	obj := o.eval.Objective()
	sign := -1.0 // maximize: cost = -score
	if obj.Direction() {
		sign = 1
	}

	res := &OptimizationResult{
		ID:        utils.GenerateStudyID(),
		Objective: obj.Name(),
	}
	var mu sync.Mutex

	cost := func(x []float64) float64 {
		s, ov := o.settingsAt(x)

		mu.Lock()
		idx := len(res.Trials)
		res.Trials = append(res.Trials, Evaluation{Index: idx, Overrides: ov})
		mu.Unlock()

		if ctx.Err() != nil {
			return FailurePenalty
		}
		r, err := o.eval.RunSettings(ctx, s)

		mu.Lock()
		defer mu.Unlock()
		res.Evaluations++
		if err != nil {
			res.Failures++
			res.Trials[idx].Error = err.Error()
			o.log.Debug("search evaluation failed", "study_id", res.ID, "index", idx, "error", err)
			return FailurePenalty
		}
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			res.Failures++
			res.Trials[idx].Error = "non-finite score"
			return FailurePenalty
		}
		res.Trials[idx].Score = r.Score
		if res.best == nil || experiment.Better(obj, r.Score, res.BestScore) {
			res.best = r
			res.BestScore = r.Score
			res.BestOverrides = ov
		}
		return sign * r.Score
	}

	x0 := make([]float64, len(o.factors))
	for i, f := range o.factors {
		v, _ := o.base.Get(f.Key)
		x0[i] = utils.InvLerp(f.Lower, f.Upper, v)
	}

	conv := &converger{
		strategy: NewCombinedStrategy(o.cfg.Convergence),
		sign:     sign,
		onStep:   o.cfg.Progress,
	}
	problem := optimize.Problem{
		Func: cost,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		Converger:       conv,
		FuncEvaluations: o.cfg.MaxEvaluations,
		MajorIterations: o.cfg.MaxIterations,
		Concurrent:      1,
	}

	o.log.Info("strategy search started",
		"study_id", res.ID,
		"objective", obj.Name(),
		"factors", len(o.factors),
		"max_evaluations", o.cfg.MaxEvaluations)

	out, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{SimplexSize: o.cfg.InitialStep})

	res.History = conv.history
	res.Iterations = len(conv.history)
	if out != nil {
		res.Reason = out.Status.String()
		res.Converged = out.Status == optimize.FunctionConvergence
	}
	if conv.reason != "" {
		res.Reason = conv.reason
	}
	if res.best != nil {
		res.BestSettings = res.best.Settings.Map()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("strategy search cancelled: %w", ctxErr)
	}
	if err != nil && res.best == nil {
		return res, fmt.Errorf("strategy search failed: %w", err)
	}
	if res.best == nil {
		return res, errors.New("strategy search failed: no experiment evaluated successfully")
	}

	o.log.Info("strategy search finished",
		"study_id", res.ID,
		"best_score", res.BestScore,
		"evaluations", res.Evaluations,
		"failures", res.Failures,
		"iterations", res.Iterations,
		"reason", res.Reason)
	return res, nil
}
