package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/cho"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/improvement"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/solver"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

// Config represents the main simulation configuration
type Config struct {
	LogLevel     string                 `yaml:"log_level"`
	LogFormat    string                 `yaml:"log_format"` // json or text
	Simulation   Simulation             `yaml:"simulation"`
	Parameters   models.InputParameters `yaml:"parameters"`
	Seed         Seed                   `yaml:"seed"`
	Experiment   Experiment             `yaml:"experiment"`
	Optimization Optimization           `yaml:"optimization"`
	Screening    Screening              `yaml:"screening"`
	Server       Server                 `yaml:"server"`
}

// Simulation holds the integrator controls
type Simulation struct {
	MaxStep      float64 `yaml:"hmax"` // hours
	InitialStep  float64 `yaml:"h0,omitempty"`
	RelTol       float64 `yaml:"rtol"`
	AbsTol       float64 `yaml:"atol"`
	MaxSteps     int     `yaml:"max_steps"`
	Subdivisions int     `yaml:"subdivisions"` // 0 picks about half an hour
	Timeout      string  `yaml:"timeout,omitempty"`
}

// Seed represents the inoculum
type Seed struct {
	Xv float64 `yaml:"xv"` // cells/L
	V  float64 `yaml:"v"`  // L
}

// Experiment selects the objective and the operating strategy scored by
// default.
type Experiment struct {
	Objective string             `yaml:"objective"`
	Overrides map[string]float64 `yaml:"overrides,omitempty"`
}

// Optimization configures the strategy search
type Optimization struct {
	Factors        []string                       `yaml:"factors,omitempty"`
	MaxEvaluations int                            `yaml:"max_evaluations"`
	MaxIterations  int                            `yaml:"max_iterations"`
	InitialStep    float64                        `yaml:"initial_step"`
	Convergence    *improvement.ConvergenceConfig `yaml:"convergence,omitempty"`
}

// Screening configures the one-factor-at-a-time sensitivity screen
type Screening struct {
	Factors     []string `yaml:"factors,omitempty"`
	Fraction    float64  `yaml:"fraction"`
	Parallelism int      `yaml:"parallelism"`
}

// Server configures the simd daemon
type Server struct {
	GRPCAddr      string `yaml:"grpc_addr"`
	HTTPAddr      string `yaml:"http_addr"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// SolverOptions converts the simulation block into integrator options.
func (s *Simulation) SolverOptions() solver.Options {
	opts := solver.DefaultOptions()
	opts.MaxStep = s.MaxStep
	opts.InitialStep = s.InitialStep
	opts.RelTol = s.RelTol
	opts.AbsTol = s.AbsTol
	if s.MaxSteps > 0 {
		opts.MaxSteps = s.MaxSteps
	}
	return opts
}

// GetTimeout parses the timeout string to time.Duration. An empty timeout
// means no limit.
func (s *Simulation) GetTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Timeout)
}

// SimulatorOptions converts the simulation block for cho.New.
func (c *Config) SimulatorOptions() cho.Options {
	return cho.Options{
		Solver:       c.Simulation.SolverOptions(),
		Subdivisions: c.Simulation.Subdivisions,
	}
}

// RunnerConfig converts the seed, objective and timeout for
// experiment.NewRunner.
func (c *Config) RunnerConfig(log *slog.Logger) (experiment.Config, error) {
	timeout, err := c.Simulation.GetTimeout()
	if err != nil {
		return experiment.Config{}, fmt.Errorf("invalid timeout: %w", err)
	}
	return experiment.Config{
		SeedXv:    c.Seed.Xv,
		SeedV:     c.Seed.V,
		Objective: c.Experiment.Objective,
		Timeout:   timeout,
		Logger:    log,
	}, nil
}

// NewRunner builds the CHO simulator and an experiment runner over it.
func (c *Config) NewRunner(log *slog.Logger) (*experiment.Runner, error) {
	sim, err := cho.New(c.Parameters, c.SimulatorOptions())
	if err != nil {
		return nil, err
	}
	rc, err := c.RunnerConfig(log)
	if err != nil {
		return nil, err
	}
	return experiment.NewRunner(sim, rc)
}

// OptimizerConfig converts the optimization block for improvement.NewOptimizer.
// The experiment overrides are the search's starting point.
func (c *Config) OptimizerConfig() improvement.Config {
	return improvement.Config{
		Factors:        c.Optimization.Factors,
		Base:           c.Experiment.Overrides,
		MaxEvaluations: c.Optimization.MaxEvaluations,
		MaxIterations:  c.Optimization.MaxIterations,
		InitialStep:    c.Optimization.InitialStep,
		Convergence:    c.Optimization.Convergence,
	}
}

// ScreenConfig converts the screening block for improvement.Screen.
func (c *Config) ScreenConfig() improvement.ScreenConfig {
	return improvement.ScreenConfig{
		Factors:     c.Screening.Factors,
		Base:        c.Experiment.Overrides,
		Fraction:    c.Screening.Fraction,
		Parallelism: c.Screening.Parallelism,
	}
}
