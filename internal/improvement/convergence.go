package improvement

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// ConvergenceStrategy defines how to detect convergence
type ConvergenceStrategy interface {
	// CheckConvergence checks if the search has converged based on the
	// best cost after each iteration
	CheckConvergence(history []OptimizationStep) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementIterations is the number of iterations without improvement before stopping
	NoImprovementIterations int `yaml:"no_improvement_iterations" json:"no_improvement_iterations"`
	// ImprovementThreshold is the minimum relative improvement to consider significant
	ImprovementThreshold float64 `yaml:"improvement_threshold" json:"improvement_threshold"`
	// ScoreTolerance is the absolute tolerance for cost changes to be considered equal
	ScoreTolerance float64 `yaml:"score_tolerance" json:"score_tolerance"`
	// MinIterations is the minimum number of iterations before convergence can be detected
	MinIterations int `yaml:"min_iterations" json:"min_iterations"`
	// PlateauIterations is the number of iterations with similar costs before stopping
	PlateauIterations int `yaml:"plateau_iterations" json:"plateau_iterations"`
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		NoImprovementIterations: 15,
		ImprovementThreshold:    1e-4,
		ScoreTolerance:          1e-6,
		MinIterations:           10,
		PlateauIterations:       10,
	}
}

// NoImprovementStrategy detects convergence when the best cost has not
// improved for N iterations
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if len(history) < s.config.MinIterations {
		return false, ""
	}

	best := math.Inf(1)
	bestIteration := -1
	for i, step := range history {
		if step.Cost < best-s.config.ScoreTolerance {
			best = step.Cost
			bestIteration = i
		}
	}
	if bestIteration < 0 {
		return false, ""
	}

	since := len(history) - 1 - bestIteration
	if since >= s.config.NoImprovementIterations {
		return true, fmt.Sprintf("no improvement for %d iterations (best at iteration %d)", since, history[bestIteration].Iteration)
	}
	return false, ""
}

// PlateauStrategy detects convergence when recent costs lie within the
// score tolerance of each other
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	n := s.config.PlateauIterations
	if len(history) < s.config.MinIterations || n < 2 || len(history) < n {
		return false, ""
	}

	recent := history[len(history)-n:]
	lo, hi := recent[0].Cost, recent[0].Cost
	for _, step := range recent {
		lo = math.Min(lo, step.Cost)
		hi = math.Max(hi, step.Cost)
	}
	if hi-lo <= s.config.ScoreTolerance {
		return true, fmt.Sprintf("cost plateaued for %d iterations (range: %.6g)", n, hi-lo)
	}
	return false, ""
}

// ThresholdStrategy detects convergence when every recent relative
// improvement is below the threshold
type ThresholdStrategy struct {
	config *ConvergenceConfig
}

// NewThresholdStrategy creates a new improvement threshold convergence strategy
func NewThresholdStrategy(config *ConvergenceConfig) *ThresholdStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &ThresholdStrategy{config: config}
}

func (s *ThresholdStrategy) Name() string {
	return "improvement_threshold"
}

func (s *ThresholdStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	window := s.config.NoImprovementIterations
	if len(history) < s.config.MinIterations+1 || window < 2 || len(history) < window {
		return false, ""
	}

	recent := history[len(history)-window:]
	maxImprovement := math.Inf(-1)
	for i := 1; i < len(recent); i++ {
		prev := recent[i-1].Cost
		if prev == 0 {
			continue
		}
		rel := (prev - recent[i].Cost) / math.Abs(prev)
		maxImprovement = math.Max(maxImprovement, rel)
	}
	if math.IsInf(maxImprovement, -1) {
		return false, ""
	}
	if maxImprovement <= s.config.ImprovementThreshold {
		return true, fmt.Sprintf("improvements below threshold (max: %.4f%%, threshold: %.4f%%)", maxImprovement*100, s.config.ImprovementThreshold*100)
	}
	return false, ""
}

// CombinedStrategy converges if any of its strategies detects convergence
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy creates the no-improvement, plateau and threshold
// strategies over one configuration
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
			NewThresholdStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}

// converger adapts a ConvergenceStrategy to the optimize.Converger
// interface. It sees the best location after every major iteration.
type converger struct {
	strategy ConvergenceStrategy
	sign     float64 // score = sign * cost
	history  []OptimizationStep
	reason   string
	onStep   func(OptimizationStep)
}

func (c *converger) Init(dim int) {
	c.history = c.history[:0]
	c.reason = ""
}

func (c *converger) Converged(loc *optimize.Location) optimize.Status {
	step := OptimizationStep{
		Iteration: len(c.history),
		Cost:      loc.F,
		Score:     c.sign * loc.F,
	}
	c.history = append(c.history, step)
	if c.onStep != nil {
		c.onStep(step)
	}
	if ok, reason := c.strategy.CheckConvergence(c.history); ok {
		c.reason = reason
		return optimize.FunctionConvergence
	}
	return optimize.NotTerminated
}
