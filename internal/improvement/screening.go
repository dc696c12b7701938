package improvement

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/utils"
)

// Sweeper evaluates batches of override sets. *experiment.Runner satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context, overrides []map[string]float64, parallelism int) ([]*experiment.Result, error)
	Objective() experiment.ObjectiveFunction
}

// ScreenConfig configures a one-factor-at-a-time screen.
type ScreenConfig struct {
	Factors []string
	Base    map[string]float64

	// Fraction of each factor range to step below and above the base value.
	Fraction    float64
	Parallelism int
}

// Effect is the score response of one factor around the base point.
type Effect struct {
	Key       string  `json:"key"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	LowScore  float64 `json:"low_score"`
	HighScore float64 `json:"high_score"`
	Effect    float64 `json:"effect"` // HighScore - LowScore
	Error     string  `json:"error,omitempty"`
}

// ScreenResult ranks factors by the magnitude of their effect.
type ScreenResult struct {
	ID            string             `json:"id"`
	Objective     string             `json:"objective"`
	BaseScore     float64            `json:"base_score"`
	Effects       []Effect           `json:"effects"`
	BestOverrides map[string]float64 `json:"best_overrides"`
	BestScore     float64            `json:"best_score"`
	Evaluations   int                `json:"evaluations"`
}

// Screen evaluates the base point and two neighbours per factor, then
// ranks the factors by |effect|. Factors whose neighbours failed are
// ranked last with their error.
func Screen(ctx context.Context, sw Sweeper, cfg ScreenConfig) (*ScreenResult, error) {
	base, err := control.Merge(cfg.Base)
	if err != nil {
		return nil, fmt.Errorf("invalid base settings: %w", err)
	}
	keys := cfg.Factors
	if len(keys) == 0 {
		keys = DefaultFactors
	}
	frac := cfg.Fraction
	if frac <= 0 || frac > 1 {
		frac = 0.1
	}

	overrides := []map[string]float64{withOverride(cfg.Base, "", 0)}
	effects := make([]Effect, 0, len(keys))
	for _, k := range keys {
		f, ok := control.LookupFactor(k)
		if !ok {
			return nil, &control.ConfigError{Key: k, Reason: "unknown factor"}
		}
		v, ok := base.Get(k)
		if !ok {
			return nil, &control.ConfigError{Key: k, Reason: fmt.Sprintf("beyond the %d-day schedule", base.Days())}
		}
		step := frac * (f.Upper - f.Lower)
		e := Effect{
			Key:  k,
			Low:  utils.ClampFloat64(v-step, f.Lower, f.Upper),
			High: utils.ClampFloat64(v+step, f.Lower, f.Upper),
		}
		effects = append(effects, e)
		overrides = append(overrides, withOverride(cfg.Base, k, e.Low), withOverride(cfg.Base, k, e.High))
	}

	results, err := sw.Sweep(ctx, overrides, cfg.Parallelism)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("screen cancelled: %w", ctxErr)
	}
	if len(results) == 0 || results[0] == nil {
		return nil, fmt.Errorf("base experiment failed: %w", err)
	}

	obj := sw.Objective()
	res := &ScreenResult{
		ID:            utils.GenerateStudyID(),
		Objective:     obj.Name(),
		BaseScore:     results[0].Score,
		BestOverrides: overrides[0],
		BestScore:     results[0].Score,
	}
	for i, r := range results {
		if r != nil {
			res.Evaluations++
			if experiment.Better(obj, r.Score, res.BestScore) {
				res.BestScore = r.Score
				res.BestOverrides = overrides[i]
			}
		}
	}
	for i := range effects {
		lo, hi := results[1+2*i], results[2+2*i]
		if lo == nil || hi == nil {
			effects[i].Error = "neighbour evaluation failed"
			continue
		}
		effects[i].LowScore = lo.Score
		effects[i].HighScore = hi.Score
		effects[i].Effect = hi.Score - lo.Score
	}
	sort.SliceStable(effects, func(a, b int) bool {
		ea, eb := effects[a], effects[b]
		if (ea.Error == "") != (eb.Error == "") {
			return ea.Error == ""
		}
		return math.Abs(ea.Effect) > math.Abs(eb.Effect)
	})
	res.Effects = effects
	return res, nil
}

// withOverride copies base and sets key, if any.
func withOverride(base map[string]float64, key string, v float64) map[string]float64 {
	out := make(map[string]float64, len(base)+1)
	for k, bv := range base {
		out[k] = bv
	}
	if key != "" {
		out[key] = v
	}
	return out
}
