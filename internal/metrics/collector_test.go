package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

func TestCollectorRecordAndValues(t *testing.T) {
	c := NewCollector()
	labels := map[string]string{"objective": "final_titer"}

	c.Record(MetricScore, 10, labels)
	c.Record(MetricScore, 20, labels)
	c.Record(MetricScore, 99, map[string]string{"objective": "peak_viable_cells"})

	got := c.Values(MetricScore, map[string]string{"objective": "final_titer"})
	if len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("unexpected values %v", got)
	}
	got[0] = -1
	if again := c.Values(MetricScore, labels); again[0] != 10 {
		t.Error("Values returned the internal slice")
	}
	if c.Values("missing", nil) != nil {
		t.Error("expected nil for an unknown metric")
	}
}

func TestCollectorLabelOrderIsIrrelevant(t *testing.T) {
	c := NewCollector()
	c.Record(MetricRunCount, 1, map[string]string{"a": "1", "b": "2"})
	c.Record(MetricRunCount, 1, map[string]string{"b": "2", "a": "1"})
	if n := len(c.Values(MetricRunCount, map[string]string{"a": "1", "b": "2"})); n != 2 {
		t.Errorf("expected both points in one series, got %d", n)
	}
}

func TestGetAggregation(t *testing.T) {
	c := NewCollector()
	for _, v := range []float64{5, 1, 4, 2, 3} {
		c.Record(MetricRunDuration, v, nil)
	}

	agg := c.GetAggregation(MetricRunDuration, nil)
	if agg == nil {
		t.Fatal("expected an aggregation")
	}
	if agg.Count != 5 || agg.Sum != 15 || agg.Min != 1 || agg.Max != 5 || agg.Mean != 3 {
		t.Errorf("unexpected aggregation %+v", agg)
	}
	if agg.P50 < agg.Min || agg.P50 > agg.Max || agg.P95 < agg.P50 || agg.P99 < agg.P95 {
		t.Errorf("percentiles out of order %+v", agg)
	}

	if c.GetAggregation("missing", nil) != nil {
		t.Error("expected nil aggregation for an empty series")
	}
}

func TestTotalAcrossLabels(t *testing.T) {
	c := NewCollector()
	RecordOutcome(c, "final_titer", ModeAsync, models.RunStatusCompleted)
	RecordOutcome(c, "final_titer", ModeAsync, models.RunStatusFailed)
	RecordOutcome(c, "final_titer", ModeSync, models.RunStatusCompleted)

	if total := c.Total(MetricRunCount); total == nil || total.Sum != 3 {
		t.Errorf("expected 3 runs in total, got %+v", total)
	}
	completed := c.GetAggregation(MetricRunCount, RunLabels("final_titer", ModeAsync, models.RunStatusCompleted))
	if completed == nil || completed.Count != 1 {
		t.Errorf("expected one completed async run, got %+v", completed)
	}
}

func TestRecordExecution(t *testing.T) {
	c := NewCollector()
	RecordExecution(c, "final_titer", 1500*time.Microsecond, &models.SolverSummary{Steps: 120, Rejected: 4}, 812.5)
	RecordExecution(c, "final_titer", 2*time.Millisecond, nil, 700)

	labels := ObjectiveLabels("final_titer")
	if got := c.Values(MetricRunDuration, labels); len(got) != 2 || got[0] != 1.5 || got[1] != 2 {
		t.Errorf("unexpected durations %v", got)
	}
	if got := c.Values(MetricSolverSteps, labels); len(got) != 1 || got[0] != 120 {
		t.Errorf("unexpected solver steps %v", got)
	}
	if agg := c.GetAggregation(MetricScore, labels); agg.Max != 812.5 || agg.Min != 700 {
		t.Errorf("unexpected score aggregation %+v", agg)
	}
}

func TestGetSummarySorted(t *testing.T) {
	c := NewCollector()
	c.Record(MetricScore, 1, map[string]string{"objective": "b"})
	c.Record(MetricScore, 1, map[string]string{"objective": "a"})
	c.Record(MetricRunCount, 1, nil)

	s := c.GetSummary()
	if len(s.Series) != 3 {
		t.Fatalf("expected 3 series, got %d", len(s.Series))
	}
	if s.Series[0].Name != MetricRunCount || s.Series[1].Labels["objective"] != "a" || s.Series[2].Labels["objective"] != "b" {
		t.Errorf("unexpected order %+v", s.Series)
	}
	if names := c.GetMetricNames(); len(names) != 2 || names[0] != MetricRunCount {
		t.Errorf("unexpected names %v", names)
	}

	c.Clear()
	if len(c.GetSummary().Series) != 0 {
		t.Error("expected Clear to drop every series")
	}
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record(MetricRunCount, 1, nil)
			}
		}()
	}
	wg.Wait()
	if agg := c.GetAggregation(MetricRunCount, nil); agg.Count != 800 {
		t.Errorf("expected 800 points, got %d", agg.Count)
	}
}
