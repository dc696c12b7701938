package experiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
)

func TestSweepIsolatesRuns(t *testing.T) {
	m := &fakeModel{delay: 5 * time.Millisecond}
	r := newTestRunner(t, m, Config{})

	feeds := []float64{60, 80, 100, 120, 140, 160, 180, 200}
	overrides := make([]map[string]float64, len(feeds))
	for i, f := range feeds {
		overrides[i] = map[string]float64{"feed_glc": f}
	}

	results, err := r.Sweep(context.Background(), overrides, 3)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(results) != len(feeds) {
		t.Fatalf("Expected %d results, got %d", len(feeds), len(results))
	}
	for i, res := range results {
		if res == nil {
			t.Fatalf("result %d missing", i)
		}
		// each run must see only its own feed medium
		if res.Score != feeds[i] {
			t.Errorf("result %d: score %g, want %g", i, res.Score, feeds[i])
		}
		if res.Settings.FeedGlc != feeds[i] {
			t.Errorf("result %d: settings feed_glc %g", i, res.Settings.FeedGlc)
		}
	}
	if got := m.maxActive.Load(); got > 3 {
		t.Errorf("parallelism exceeded: %d concurrent executions", got)
	}
}

func TestSweepPartialFailure(t *testing.T) {
	r := newTestRunner(t, &fakeModel{}, Config{})
	overrides := []map[string]float64{
		{"feed_glc": 100},
		{"feed_glc": 1000},
		{"feed_glc": 120},
	}

	results, err := r.Sweep(context.Background(), overrides, 2)
	if !errors.Is(err, control.ErrConfig) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if results[0] == nil || results[2] == nil {
		t.Error("successful experiments should still be returned")
	}
	if results[1] != nil {
		t.Error("failed experiment should have no result")
	}
}

func TestSweepEmpty(t *testing.T) {
	r := newTestRunner(t, &fakeModel{}, Config{})
	if _, err := r.Sweep(context.Background(), nil, 2); err == nil {
		t.Error("Expected error for empty sweep")
	}
}

func TestSweepCancelled(t *testing.T) {
	m := &fakeModel{}
	r := newTestRunner(t, m, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Sweep(ctx, []map[string]float64{{}, {}}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
