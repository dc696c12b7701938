package metrics

import (
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/utils"
)

// Common metric names
const (
	MetricRunCount       = "run_count"
	MetricRunDuration    = "run_duration_ms"
	MetricSolverSteps    = "solver_steps"
	MetricSolverRejected = "solver_rejected_steps"
	MetricScore          = "score"
)

// Run modes
const (
	ModeAsync = "async"
	ModeSync  = "sync"
)

// RunLabels labels an outcome by objective, execution mode and status.
func RunLabels(objective, mode string, status models.RunStatus) map[string]string {
	return map[string]string{
		"objective": objective,
		"mode":      mode,
		"status":    string(status),
	}
}

// ObjectiveLabels labels a measurement by objective only.
func ObjectiveLabels(objective string) map[string]string {
	return map[string]string{
		"objective": objective,
	}
}

// RecordOutcome counts one finished run.
func RecordOutcome(collector *Collector, objective, mode string, status models.RunStatus) {
	collector.Record(MetricRunCount, 1, RunLabels(objective, mode, status))
}

// RecordExecution records the wall-clock time, solver effort and score of
// one successful run. solver may be nil.
func RecordExecution(collector *Collector, objective string, d time.Duration, solver *models.SolverSummary, score float64) {
	labels := ObjectiveLabels(objective)
	collector.Record(MetricRunDuration, utils.Round(d.Seconds()*1000, 3), labels)
	collector.Record(MetricScore, score, labels)
	if solver != nil {
		collector.Record(MetricSolverSteps, float64(solver.Steps), labels)
		collector.Record(MetricSolverRejected, float64(solver.Rejected), labels)
	}
}
