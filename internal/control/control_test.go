package control

import (
	"errors"
	"math"
	"testing"
)

func TestMergeEmptyYieldsDefaults(t *testing.T) {
	s, err := Merge(nil)
	if err != nil {
		t.Fatalf("Merge(nil) failed: %v", err)
	}

	got := s.Map()
	factors := Factors(DefaultFeedDays)
	if len(got) != len(factors) {
		t.Fatalf("Expected %d keys, got %d", len(factors), len(got))
	}
	for _, f := range factors {
		if got[f.Key] != f.Default {
			t.Errorf("%s: expected default %g, got %g", f.Key, f.Default, got[f.Key])
		}
	}

	// documented schedule: zero on days 0-3, 1.75 mL/day on days 4-5, zero after
	want := []float64{0, 0, 0, 0, 1.75, 1.75, 0, 0, 0, 0}
	for d, v := range want {
		if s.DayFeed[d] != v {
			t.Errorf("day %d: expected %g, got %g", d, v, s.DayFeed[d])
		}
	}
}

func TestMergeOverrides(t *testing.T) {
	s, err := Merge(map[string]float64{"batch_glc": 60, "day_2_feed": 3, "prod_temp": 33})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if s.BatchGlc != 60 || s.DayFeed[2] != 3 || s.ProdTemp != 33 {
		t.Errorf("overrides not applied: %+v", s)
	}
	if s.BatchGln != 5.7 {
		t.Errorf("non-overridden key lost its default: %g", s.BatchGln)
	}

	// the defaults themselves must not be touched by a merge
	if Defaults().BatchGlc != 45 {
		t.Error("Merge mutated the defaults")
	}
}

func TestMergeRejectsUnknownKey(t *testing.T) {
	_, err := Merge(map[string]float64{"batch_glucose": 1})
	if err == nil {
		t.Fatal("Expected error for unknown key")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %T", err)
	}
	if cfgErr.Key != "batch_glucose" {
		t.Errorf("Expected key batch_glucose, got %s", cfgErr.Key)
	}
	if !errors.Is(err, ErrConfig) {
		t.Error("Expected errors.Is(err, ErrConfig)")
	}
}

func TestMergeRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  float64
	}{
		{"pH too low", "batch_pH", 6.0},
		{"temperature too high", "batch_temp", 45},
		{"transition too early", "prod_start_eft", 10},
		{"negative feed", "day_3_feed", -1},
		{"feed glucose NaN", "feed_glc", math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(map[string]float64{tt.key: tt.val})
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Key != tt.key {
				t.Errorf("Expected key %s, got %s", tt.key, cfgErr.Key)
			}
		})
	}
}

func TestMergeExtendsSchedule(t *testing.T) {
	s, err := Merge(map[string]float64{"day_11_feed": 2, "day_10_feed": 1})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if s.Days() != 12 {
		t.Fatalf("Expected 12 scheduled days, got %d", s.Days())
	}
	if s.DayFeed[10] != 1 || s.DayFeed[11] != 2 {
		t.Errorf("Unexpected extension: %v", s.DayFeed)
	}

	if _, err := Merge(map[string]float64{"day_12_feed": 1}); err == nil {
		t.Error("Expected error for a schedule gap")
	}
	if _, err := Merge(map[string]float64{"day_01_feed": 1}); err == nil {
		t.Error("Expected error for a non-canonical day key")
	}
}

func TestValidateEmptySchedule(t *testing.T) {
	s := Defaults()
	s.DayFeed = nil
	if err := s.Validate(); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected config error for empty schedule, got %v", err)
	}
	if _, err := Build(s); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected Build to reject empty schedule, got %v", err)
	}
}

func TestScheduleTailHold(t *testing.T) {
	sch, err := DailySchedule([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("DailySchedule failed: %v", err)
	}
	tests := []struct {
		t    float64
		want float64
	}{
		{-5, 1},
		{0, 1},
		{23.999, 1},
		{24, 2},
		{47.5, 2},
		{48, 3},
		{1000, 3},
		{1e12, 3},
		{math.Inf(1), 3},
	}
	for _, tt := range tests {
		if got := sch.At(tt.t); got != tt.want {
			t.Errorf("At(%g) = %g, want %g", tt.t, got, tt.want)
		}
	}
}

func TestScheduleSparseSteps(t *testing.T) {
	sch, err := NewSchedule(24, []Step{{Bucket: 0, Value: 0}, {Bucket: 3, Value: 5}, {Bucket: 7, Value: 1}})
	if err != nil {
		t.Fatalf("NewSchedule failed: %v", err)
	}
	if sch.At(50) != 0 || sch.At(72) != 5 || sch.At(100) != 5 || sch.At(167) != 5 || sch.At(168) != 1 {
		t.Errorf("unexpected values: %g %g %g %g %g", sch.At(50), sch.At(72), sch.At(100), sch.At(167), sch.At(168))
	}

	trans := sch.Transitions(1000)
	if len(trans) != 2 || trans[0] != 72 || trans[1] != 168 {
		t.Errorf("unexpected transitions: %v", trans)
	}

	if _, err := NewSchedule(24, []Step{{Bucket: 2}, {Bucket: 2}}); err == nil {
		t.Error("Expected error for repeated bucket")
	}
	if _, err := NewSchedule(0, []Step{{Bucket: 0}}); err == nil {
		t.Error("Expected error for zero width")
	}
	if _, err := NewSchedule(24, nil); err == nil {
		t.Error("Expected error for empty steps")
	}
}

func TestFeedIsPiecewiseConstantPerDay(t *testing.T) {
	s, err := Merge(map[string]float64{"day_0_feed": 2.4, "day_9_feed": 4.8})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	sig, err := Build(s)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for day := 0; day < 20; day++ {
		want := sig.Feed(float64(day) * 24)
		for _, off := range []float64{0.001, 6, 12.5, 23.999} {
			if got := sig.Feed(float64(day)*24 + off); got != want {
				t.Errorf("day %d offset %g: %g != %g", day, off, got, want)
			}
		}
	}

	if got := sig.Feed(0); math.Abs(got-2.4*MLPerDayToLPerHour) > 1e-15 {
		t.Errorf("Feed(0) = %g, want %g", got, 2.4*MLPerDayToLPerHour)
	}
	if got := sig.Feed(4 * 24); math.Abs(got-1.75*MLPerDayToLPerHour) > 1e-15 {
		t.Errorf("Feed(96) = %g", got)
	}
	// far beyond the schedule the last day's value holds
	if got := sig.Feed(1e6); math.Abs(got-4.8*MLPerDayToLPerHour) > 1e-15 {
		t.Errorf("Feed(1e6) = %g", got)
	}
	if w := sig.FeedSchedule().Width(); w != BucketHours {
		t.Errorf("schedule width = %g, want %g", w, BucketHours)
	}
}

func TestTempTransition(t *testing.T) {
	s, err := Merge(map[string]float64{"prod_start_eft": 96, "batch_temp": 37, "prod_temp": 33})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	sig, err := Build(s)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	eps := 1e-9
	if got := sig.Temp(96 - eps); got != 37 {
		t.Errorf("Temp(eft-eps) = %g, want 37", got)
	}
	if got := sig.Temp(96); got != 33 {
		t.Errorf("Temp(eft) = %g, want 33", got)
	}

	seen := map[float64]bool{}
	for ti := 0.0; ti < 300; ti += 0.5 {
		seen[sig.Temp(ti)] = true
	}
	if len(seen) != 2 {
		t.Errorf("Expected exactly two temperature values, got %v", seen)
	}

	// out-of-order probing gives the same answers
	if sig.Temp(200) != 33 || sig.Temp(0) != 37 || sig.Temp(200) != 33 {
		t.Error("Temp is not a pure function of time")
	}
}

func TestBreakpoints(t *testing.T) {
	sig, err := Build(Defaults())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// default feed changes at 96 and 144; temperatures are equal so the
	// phase shift is not a discontinuity
	bp := sig.Breakpoints(288)
	if len(bp) != 2 || bp[0] != 96 || bp[1] != 144 {
		t.Errorf("unexpected breakpoints: %v", bp)
	}

	s, _ := Merge(map[string]float64{"prod_temp": 33, "prod_start_eft": 96})
	sig, _ = Build(s)
	bp = sig.Breakpoints(288)
	if len(bp) != 2 || bp[0] != 96 || bp[1] != 144 {
		t.Errorf("coinciding breakpoints must be merged: %v", bp)
	}

	bp = sig.Breakpoints(100)
	if len(bp) != 1 || bp[0] != 96 {
		t.Errorf("breakpoints beyond tEnd must be dropped: %v", bp)
	}
}

func TestSettingsGetSet(t *testing.T) {
	s := Defaults()
	for _, k := range s.Keys() {
		if _, ok := s.Get(k); !ok {
			t.Errorf("Get(%s) not found", k)
		}
	}
	if _, ok := s.Get("day_99_feed"); ok {
		t.Error("Expected day_99_feed to be absent")
	}
	if err := s.Set("nope", 1); err == nil {
		t.Error("Expected Set to reject unknown key")
	}

	c := s.Clone()
	c.DayFeed[0] = 9
	if s.DayFeed[0] == 9 {
		t.Error("Clone shares the feed schedule")
	}
}

func TestLookupFactor(t *testing.T) {
	f, ok := LookupFactor(KeyBatchPH)
	if !ok || f.Lower != 6.7 || f.Upper != 7.4 || f.Default != 6.9 {
		t.Errorf("unexpected batch_pH factor: %+v", f)
	}
	f, ok = LookupFactor("day_14_feed")
	if !ok || f.Key != "day_14_feed" || f.Unit != "mL/day" || f.Default != 0 {
		t.Errorf("unexpected day_14_feed factor: %+v", f)
	}
	if f, _ := LookupFactor("day_4_feed"); f.Default != 1.75 {
		t.Errorf("day_4_feed default = %g, want 1.75", f.Default)
	}
	if _, ok := LookupFactor("day_x_feed"); ok {
		t.Error("Expected day_x_feed to be unknown")
	}
}
