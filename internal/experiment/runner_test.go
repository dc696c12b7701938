package experiment

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/cho"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/solver"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

// fakeModel echoes its input into a small dataset: the final Cmab is
// the feed glucose concentration, so a run that saw another run's feed
// medium is detectable.
type fakeModel struct {
	mu     sync.Mutex
	inputs []models.RunInput
	calls  atomic.Int32

	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration

	err    error
	mutate func(models.Dataset)
}

func (m *fakeModel) Execute(ctx context.Context, in models.RunInput) (*models.Execution, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}

	ds := models.Dataset{
		models.TimeKey: {0, 144, 288},
		"Xv":           {in.Batch.Xv, 4 * in.Batch.Xv, 2 * in.Batch.Xv},
		"Cmab":         {0, in.Feed.Glc / 2, in.Feed.Glc},
	}
	if m.mutate != nil {
		m.mutate(ds)
	}
	return &models.Execution{Dataset: ds, Solver: &models.SolverSummary{Steps: 3}}, nil
}

func newTestRunner(t *testing.T, m Model, cfg Config) *Runner {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger.New("error", io.Discard)
	}
	r, err := NewRunner(m, cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func TestRunDefaults(t *testing.T) {
	m := &fakeModel{}
	r := newTestRunner(t, m, Config{})

	res, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Score != 140 || res.Titer != 140 {
		t.Errorf("Expected score 140 (default feed glucose), got %g / %g", res.Score, res.Titer)
	}
	if res.Objective != string(ObjectiveFinalTiter) {
		t.Errorf("Expected default objective final_titer, got %s", res.Objective)
	}
	if res.ID == "" {
		t.Error("Expected an experiment ID")
	}

	in := m.inputs[0]
	want := models.BatchConditions{Cglc: 45, Cgln: 5.7, PH: 6.9, V: DefaultSeedV, Xv: DefaultSeedXv}
	if in.Batch != want {
		t.Errorf("batch conditions = %+v, want %+v", in.Batch, want)
	}
	if in.Feed != (models.FeedConcentrations{Glc: 140, Gln: 5}) {
		t.Errorf("feed concentrations = %+v", in.Feed)
	}
	if got := in.FeedRate(100); math.Abs(got-1.75*control.MLPerDayToLPerHour) > 1e-15 {
		t.Errorf("FeedRate(100) = %g", got)
	}
	if in.Temp(0) != 37 || in.Temp(200) != 37 {
		t.Errorf("unexpected temperatures %g, %g", in.Temp(0), in.Temp(200))
	}
	if len(in.Breakpoints) != 2 || in.Breakpoints[0] != 96 || in.Breakpoints[1] != 144 {
		t.Errorf("unexpected breakpoints %v", in.Breakpoints)
	}
}

func TestRunSeedConditions(t *testing.T) {
	m := &fakeModel{}
	r := newTestRunner(t, m, Config{SeedXv: 1e9, SeedV: 2})
	if _, err := r.Run(context.Background(), map[string]float64{"batch_pH": 7.1}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	in := m.inputs[0]
	if in.Batch.Xv != 1e9 || in.Batch.V != 2 || in.Batch.PH != 7.1 {
		t.Errorf("unexpected batch conditions %+v", in.Batch)
	}
}

func TestRunConfigErrorBeforeExecution(t *testing.T) {
	m := &fakeModel{}
	r := newTestRunner(t, m, Config{})

	tests := []map[string]float64{
		{"no_such_factor": 1},
		{"batch_temp": 80},
		{"day_20_feed": 1},
	}
	for _, ov := range tests {
		_, err := r.Run(context.Background(), ov)
		if !errors.Is(err, control.ErrConfig) {
			t.Errorf("%v: expected configuration error, got %v", ov, err)
		}
	}
	if m.calls.Load() != 0 {
		t.Errorf("model was invoked %d times for invalid settings", m.calls.Load())
	}
}

func TestRunPropagatesModelError(t *testing.T) {
	ierr := &solver.IntegrationError{Time: 12.5, State: []float64{1}, Err: solver.ErrNonFinite}
	m := &fakeModel{err: ierr}
	r := newTestRunner(t, m, Config{})

	_, err := r.Run(context.Background(), nil)
	if err != ierr {
		t.Fatalf("Expected the model error unchanged, got %v", err)
	}
	var got *solver.IntegrationError
	if !errors.As(err, &got) || got.Time != 12.5 {
		t.Errorf("errors.As lost the integration failure: %v", err)
	}
	if !errors.Is(err, solver.ErrNonFinite) {
		t.Error("Expected errors.Is(err, ErrNonFinite)")
	}
}

func TestRunContractViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(models.Dataset)
		key    string
	}{
		{"missing product", func(ds models.Dataset) { delete(ds, "Cmab") }, "Cmab"},
		{"missing time", func(ds models.Dataset) { delete(ds, models.TimeKey) }, models.TimeKey},
		{"misaligned", func(ds models.Dataset) { ds["Xv"] = ds["Xv"][:2] }, "Xv"},
		{"unordered time", func(ds models.Dataset) { ds[models.TimeKey] = []float64{0, 300, 288} }, models.TimeKey},
		{"non-finite", func(ds models.Dataset) { ds["Xv"][1] = math.Inf(1) }, "Xv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, &fakeModel{mutate: tt.mutate}, Config{})
			_, err := r.Run(context.Background(), nil)
			var ce *ContractError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected ContractError, got %v", err)
			}
			if ce.Key != tt.key {
				t.Errorf("Expected key %s, got %s", tt.key, ce.Key)
			}
			if !errors.Is(err, ErrContract) {
				t.Error("Expected errors.Is(err, ErrContract)")
			}
			if errors.Is(err, solver.ErrIntegration) {
				t.Error("contract violation must not look like an integration failure")
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	m := &fakeModel{delay: time.Second}
	r := newTestRunner(t, m, Config{Timeout: 10 * time.Millisecond})

	start := time.Now()
	_, err := r.Run(context.Background(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout was not enforced")
	}
}

func TestNewRunnerValidation(t *testing.T) {
	if _, err := NewRunner(nil, Config{}); err == nil {
		t.Error("Expected error for nil model")
	}
	_, err := NewRunner(&fakeModel{}, Config{Objective: "yield"})
	var uoe *UnknownObjectiveError
	if !errors.As(err, &uoe) {
		t.Errorf("Expected UnknownObjectiveError, got %v", err)
	}
	if _, err := NewRunner(&fakeModel{}, Config{SeedV: -1}); err == nil {
		t.Error("Expected error for negative volume")
	}
}

func TestRunDefaultExperimentEndToEnd(t *testing.T) {
	sim, err := cho.New(models.DefaultInputParameters(), cho.DefaultOptions())
	if err != nil {
		t.Fatalf("cho.New failed: %v", err)
	}
	r := newTestRunner(t, sim, Config{SeedXv: 8e6, SeedV: 0.02})

	res, err := r.Run(context.Background(), map[string]float64{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if math.IsNaN(res.Score) || math.IsInf(res.Score, 0) || res.Score < 0 {
		t.Errorf("score = %g, want a finite non-negative value", res.Score)
	}
	times := res.Dataset[models.TimeKey]
	if times[0] != 0 || times[len(times)-1] != 288 {
		t.Errorf("time span [%g, %g], want [0, 288]", times[0], times[len(times)-1])
	}
	for i, v := range res.Dataset["Xv"] {
		if !(v >= 0) {
			t.Errorf("Xv[%d] = %g is negative", i, v)
		}
	}
}
