// Package experiment binds factor settings to a model execution and reduces
// the sampled result to a score.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/utils"
)

// Default seed conditions of an experiment.
const (
	DefaultSeedXv = 8e6  // cells/L
	DefaultSeedV  = 0.02 // L
)

// Model executes one run. Implementations must not retain or mutate the
// input; per-run values such as the feed medium arrive only through it.
type Model interface {
	Execute(ctx context.Context, in models.RunInput) (*models.Execution, error)
}

// Config configures a Runner. Zero values select defaults.
type Config struct {
	SeedXv    float64 // cells/L
	SeedV     float64 // L
	Objective string

	// Timeout bounds the wall-clock time of one execution. Exceeding it
	// fails the run the same way any other integration failure does.
	Timeout time.Duration

	Logger *slog.Logger
}

// Runner evaluates experiments against one model. It holds no per-run state
// and is safe for concurrent use.
type Runner struct {
	model     Model
	seedXv    float64
	seedV     float64
	objective ObjectiveFunction
	timeout   time.Duration
	log       *slog.Logger
}

// Result is the outcome of one experiment.
type Result struct {
	ID        string
	Settings  control.Settings
	Dataset   models.Dataset
	Score     float64
	Titer     float64 // final Cmab, mg/L
	Objective string
	Duration  time.Duration
	Solver    *models.SolverSummary
}

// NewRunner creates a runner over model.
func NewRunner(model Model, cfg Config) (*Runner, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	obj, err := NewObjectiveFunction(cfg.Objective)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		model:     model,
		seedXv:    cfg.SeedXv,
		seedV:     cfg.SeedV,
		objective: obj,
		timeout:   cfg.Timeout,
		log:       cfg.Logger,
	}
	if r.seedXv == 0 {
		r.seedXv = DefaultSeedXv
	}
	if r.seedV == 0 {
		r.seedV = DefaultSeedV
	}
	if r.seedXv < 0 || r.seedV < 0 {
		return nil, fmt.Errorf("seed conditions must be positive (Xv=%g, V=%g)", r.seedXv, r.seedV)
	}
	if r.log == nil {
		r.log = logger.Default
	}
	return r, nil
}

// Objective returns the runner's objective function.
func (r *Runner) Objective() ObjectiveFunction {
	return r.objective
}

// Run merges overrides over the default settings and evaluates the result.
// Configuration errors are returned before the model is invoked.
func (r *Runner) Run(ctx context.Context, overrides map[string]float64) (*Result, error) {
	s, err := control.Merge(overrides)
	if err != nil {
		return nil, err
	}
	return r.RunSettings(ctx, s)
}

// RunSettings evaluates fully specified settings. Errors from the model are
// returned unchanged.
func (r *Runner) RunSettings(ctx context.Context, s control.Settings) (*Result, error) {
	sig, err := control.Build(s)
	if err != nil {
		return nil, err
	}
	in := r.Input(s, sig)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	id := utils.GenerateRunID()
	start := time.Now()
	exec, err := r.model.Execute(ctx, in)
	elapsed := time.Since(start)
	if err != nil {
		r.log.Warn("experiment failed",
			"experiment_id", id,
			"duration", elapsed,
			"error", err)
		return nil, err
	}
	if exec == nil {
		return nil, &ContractError{Reason: "model returned no result"}
	}
	if err := checkDataset(exec.Dataset); err != nil {
		return nil, err
	}

	titer, _ := exec.Dataset.Last(ProductKey)
	score, err := r.objective.Evaluate(exec.Dataset)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:        id,
		Settings:  s,
		Dataset:   exec.Dataset,
		Score:     score,
		Titer:     titer,
		Objective: r.objective.Name(),
		Duration:  elapsed,
		Solver:    exec.Solver,
	}
	attrs := []any{
		"experiment_id", id,
		"objective", res.Objective,
		"score", score,
		"titer", titer,
		"duration", elapsed,
	}
	if exec.Solver != nil {
		attrs = append(attrs, "steps", exec.Solver.Steps, "rejected", exec.Solver.Rejected)
		for _, w := range exec.Solver.Warnings {
			r.log.Warn("integrator warning", "experiment_id", id, "warning", w)
		}
	}
	r.log.Info("experiment completed", attrs...)
	return res, nil
}

// Input assembles the per-run model input from settings and their signals.
func (r *Runner) Input(s control.Settings, sig control.Signals) models.RunInput {
	return models.RunInput{
		Batch: models.BatchConditions{
			Cglc: s.BatchGlc,
			Cgln: s.BatchGln,
			PH:   s.BatchPH,
			V:    r.seedV,
			Xv:   r.seedXv,
		},
		Feed:        models.FeedConcentrations{Glc: s.FeedGlc, Gln: s.FeedGln},
		FeedRate:    sig.Feed,
		Temp:        sig.Temp,
		Breakpoints: sig.Breakpoints(math.Inf(1)),
	}
}

// checkDataset enforces the execution contract: a strictly increasing time
// sequence, a product sequence, and every sequence finite and aligned with
// time.
func checkDataset(ds models.Dataset) error {
	t, err := ds.Series(models.TimeKey)
	if err != nil {
		return contractError(err)
	}
	for i := 1; i < len(t); i++ {
		if !(t[i] > t[i-1]) {
			return &ContractError{Key: models.TimeKey, Reason: fmt.Sprintf("not strictly increasing at index %d", i)}
		}
	}
	if _, err := ds.Series(ProductKey); err != nil {
		return contractError(err)
	}
	for _, k := range ds.Keys() {
		if n := len(ds[k]); n != len(t) {
			return &ContractError{Key: k, Reason: fmt.Sprintf("has %d samples, time has %d", n, len(t))}
		}
		if !utils.AllFinite(ds[k]) {
			return &ContractError{Key: k, Reason: "contains non-finite values"}
		}
	}
	return nil
}
