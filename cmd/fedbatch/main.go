package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/improvement"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/config"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

const usage = `usage: fedbatch <command> [flags]

commands:
  factors    list the recognised factors and their ranges
  score      run one experiment and print its score
  optimize   search the factor space for a better strategy
  screen     rank factors by their effect around a base strategy`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\n%s", msg, usage)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "factors":
		return runFactors(args[1:], stdout)
	case "score":
		return runScore(ctx, args[1:], stdout)
	case "optimize":
		return runOptimize(ctx, args[1:], stdout)
	case "screen":
		return runScreen(ctx, args[1:], stdout)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commonFlags are shared by every command that runs experiments.
type commonFlags struct {
	configPath string
	logLevel   string
	set        overrideFlag
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.Var(&c.set, "set", "factor override key=value, repeatable")
}

// load reads the config, applies -set over the configured overrides and
// builds a runner. Logs go to stderr so stdout stays machine readable.
func (c *commonFlags) load() (*config.Config, *experiment.Runner, *slog.Logger, error) {
	cfg := config.Default()
	if c.configPath != "" {
		loaded, err := config.LoadConfig(c.configPath)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg = loaded
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if len(c.set) > 0 {
		merged := make(map[string]float64, len(cfg.Experiment.Overrides)+len(c.set))
		for k, v := range cfg.Experiment.Overrides {
			merged[k] = v
		}
		for k, v := range c.set {
			merged[k] = v
		}
		if _, err := control.Merge(merged); err != nil {
			return nil, nil, nil, err
		}
		cfg.Experiment.Overrides = merged
	}

	log := logger.NewFormat(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logger.SetDefault(log)
	runner, err := cfg.NewRunner(log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, runner, log, nil
}

func runFactors(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("factors", flag.ContinueOnError)
	days := fs.Int("days", control.DefaultFeedDays, "length of the per-day feed schedule")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 1 {
		return fmt.Errorf("days must be at least 1, got %d", *days)
	}
	return writeJSON(stdout, map[string]any{
		"factors":    control.Factors(*days),
		"objectives": experiment.ObjectiveTypes(),
	})
}

type scoreOutput struct {
	ID         string                `json:"id"`
	Objective  string                `json:"objective"`
	Score      float64               `json:"score"`
	Titer      float64               `json:"titer"`
	Settings   map[string]float64    `json:"settings"`
	DurationMs int64                 `json:"duration_ms"`
	Solver     *models.SolverSummary `json:"solver,omitempty"`
	Dataset    models.Dataset        `json:"dataset,omitempty"`
}

func runScore(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	withDataset := fs.Bool("dataset", false, "include the sampled trajectories")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, runner, _, err := common.load()
	if err != nil {
		return err
	}
	res, err := runner.Run(ctx, cfg.Experiment.Overrides)
	if err != nil {
		return err
	}

	out := scoreOutput{
		ID:         res.ID,
		Objective:  res.Objective,
		Score:      res.Score,
		Titer:      res.Titer,
		Settings:   res.Settings.Map(),
		DurationMs: res.Duration.Milliseconds(),
		Solver:     res.Solver,
	}
	if *withDataset {
		out.Dataset = res.Dataset
	}
	return writeJSON(stdout, out)
}

func runOptimize(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("optimize", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	var factors listFlag
	fs.Var(&factors, "factors", "comma-separated factors to search (default from config)")
	maxEvals := fs.Int("max-evals", 0, "evaluation budget (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, runner, log, err := common.load()
	if err != nil {
		return err
	}
	oc := cfg.OptimizerConfig()
	if len(factors) > 0 {
		oc.Factors = factors
	}
	if *maxEvals > 0 {
		oc.MaxEvaluations = *maxEvals
	}
	oc.Logger = log
	oc.Progress = func(step improvement.OptimizationStep) {
		log.Debug("strategy search progress", "iteration", step.Iteration, "score", step.Score)
	}

	opt, err := improvement.NewOptimizer(runner, oc)
	if err != nil {
		return err
	}
	res, err := opt.Optimize(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func runScreen(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("screen", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	var factors listFlag
	fs.Var(&factors, "factors", "comma-separated factors to screen (default from config)")
	fraction := fs.Float64("fraction", 0, "step as a fraction of each factor range (default from config)")
	parallelism := fs.Int("parallelism", 0, "concurrent experiments (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, runner, _, err := common.load()
	if err != nil {
		return err
	}
	sc := cfg.ScreenConfig()
	if len(factors) > 0 {
		sc.Factors = factors
	}
	if *fraction > 0 {
		sc.Fraction = *fraction
	}
	if *parallelism > 0 {
		sc.Parallelism = *parallelism
	}

	res, err := improvement.Screen(ctx, runner, sc)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

var errBadOverride = errors.New("override must be key=value")
