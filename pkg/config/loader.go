package config

import (
	"fmt"
	"os"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

// maxStepLimit is the feed bucket width. A wider step can jump over a
// whole day of feeding.
const maxStepLimit = 24.0

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Simulation: Simulation{
			MaxStep:  1.0,
			RelTol:   1e-6,
			AbsTol:   1e-8,
			MaxSteps: 500000,
		},
		Parameters: models.DefaultInputParameters(),
		Seed: Seed{
			Xv: experiment.DefaultSeedXv,
			V:  experiment.DefaultSeedV,
		},
		Experiment: Experiment{
			Objective: string(experiment.ObjectiveFinalTiter),
		},
		Optimization: Optimization{
			MaxEvaluations: 200,
			InitialStep:    0.1,
		},
		Screening: Screening{
			Fraction:    0.1,
			Parallelism: 4,
		},
		Server: Server{
			GRPCAddr:      ":50051",
			HTTPAddr:      ":8080",
			MaxConcurrent: 4,
		},
	}
}

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}

	if err := validateSimulation(&cfg.Simulation); err != nil {
		return fmt.Errorf("simulation validation failed: %w", err)
	}

	if err := cfg.Parameters.Validate(); err != nil {
		return fmt.Errorf("parameters validation failed: %w", err)
	}

	if cfg.Seed.Xv <= 0 || cfg.Seed.V <= 0 {
		return fmt.Errorf("seed xv and v must be positive (xv=%g, v=%g)", cfg.Seed.Xv, cfg.Seed.V)
	}

	if _, err := experiment.NewObjectiveFunction(cfg.Experiment.Objective); err != nil {
		return fmt.Errorf("experiment validation failed: %w", err)
	}
	if _, err := control.Merge(cfg.Experiment.Overrides); err != nil {
		return fmt.Errorf("experiment validation failed: %w", err)
	}

	if err := validateOptimization(&cfg.Optimization); err != nil {
		return fmt.Errorf("optimization validation failed: %w", err)
	}

	if err := validateScreening(&cfg.Screening); err != nil {
		return fmt.Errorf("screening validation failed: %w", err)
	}

	if cfg.Server.MaxConcurrent < 0 {
		return fmt.Errorf("server max_concurrent cannot be negative")
	}

	return nil
}

func validateSimulation(sim *Simulation) error {
	if sim.MaxStep <= 0 || sim.MaxStep > maxStepLimit {
		return fmt.Errorf("hmax must be in (0, %g] hours, got %g", maxStepLimit, sim.MaxStep)
	}
	if sim.InitialStep < 0 {
		return fmt.Errorf("h0 cannot be negative")
	}
	if sim.RelTol <= 0 || sim.AbsTol <= 0 {
		return fmt.Errorf("rtol and atol must be positive (rtol=%g, atol=%g)", sim.RelTol, sim.AbsTol)
	}
	if sim.MaxSteps < 0 {
		return fmt.Errorf("max_steps cannot be negative")
	}
	if sim.Subdivisions < 0 {
		return fmt.Errorf("subdivisions cannot be negative")
	}
	d, err := sim.GetTimeout()
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

func validateFactorKeys(keys []string) error {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := control.LookupFactor(k); !ok {
			return &control.ConfigError{Key: k, Reason: "unknown factor"}
		}
		if seen[k] {
			return fmt.Errorf("duplicate factor: %s", k)
		}
		seen[k] = true
	}
	return nil
}

func validateOptimization(opt *Optimization) error {
	if err := validateFactorKeys(opt.Factors); err != nil {
		return err
	}
	if opt.MaxEvaluations < 0 || opt.MaxIterations < 0 {
		return fmt.Errorf("max_evaluations and max_iterations cannot be negative")
	}
	if opt.InitialStep < 0 || opt.InitialStep > 1 {
		return fmt.Errorf("initial_step must be in [0, 1], got %g", opt.InitialStep)
	}
	if c := opt.Convergence; c != nil {
		if c.NoImprovementIterations < 0 || c.PlateauIterations < 0 || c.MinIterations < 0 {
			return fmt.Errorf("convergence iteration counts cannot be negative")
		}
		if c.ImprovementThreshold < 0 || c.ScoreTolerance < 0 {
			return fmt.Errorf("convergence thresholds cannot be negative")
		}
	}
	return nil
}

func validateScreening(s *Screening) error {
	if err := validateFactorKeys(s.Factors); err != nil {
		return err
	}
	if s.Fraction < 0 || s.Fraction > 1 {
		return fmt.Errorf("fraction must be in [0, 1], got %g", s.Fraction)
	}
	if s.Parallelism < 0 {
		return fmt.Errorf("parallelism cannot be negative")
	}
	return nil
}
