// Package simd serves experiments over HTTP and gRPC.
package simd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/metrics"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

// Scorer evaluates one experiment. *experiment.Runner satisfies it.
type Scorer interface {
	Run(ctx context.Context, overrides map[string]float64) (*experiment.Result, error)
	Objective() experiment.ObjectiveFunction
}

// RunExecutor manages asynchronous run execution and per-run cancellation.
// At most maxConcurrent experiments integrate at once; synchronous Score
// calls share the same slots.
type RunExecutor struct {
	store    *RunStore
	scorer   Scorer
	notifier *Notifier
	metrics  *metrics.Collector
	sem      chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunExecutor(store *RunStore, scorer Scorer, maxConcurrent int) *RunExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RunExecutor{
		store:   store,
		scorer:  scorer,
		metrics: metrics.NewCollector(),
		sem:     make(chan struct{}, maxConcurrent),
		cancels: make(map[string]context.CancelFunc),
	}
}

// SetNotifier enables completion callbacks.
func (e *RunExecutor) SetNotifier(n *Notifier) {
	e.notifier = n
}

// Objective returns the objective experiments are scored with.
func (e *RunExecutor) Objective() experiment.ObjectiveFunction {
	return e.scorer.Objective()
}

// Start begins executing a pending run asynchronously. The run stays
// pending until a slot is free.
func (e *RunExecutor) Start(runID string) (RunRecord, error) {
	if runID == "" {
		return RunRecord{}, ErrRunIDMissing
	}

	rec, ok := e.store.Get(runID)
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.IsTerminal() {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	e.mu.Lock()
	if _, running := e.cancels[runID]; running {
		e.mu.Unlock()
		return rec, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[runID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go e.execute(ctx, rec)
	return rec, nil
}

// Stop marks a run cancelled and then cancels its execution, so a result
// arriving afterwards is discarded.
func (e *RunExecutor) Stop(runID string) (RunRecord, error) {
	if runID == "" {
		return RunRecord{}, ErrRunIDMissing
	}

	rec, err := e.finish(runID, models.RunStatusCancelled, "stopped by client", models.ErrorKindCancelled)
	if err != nil {
		return RunRecord{}, err
	}

	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	logger.Info("experiment cancelled", "run_id", runID)
	return rec, nil
}

// Metrics returns the collector fed by every finished run.
func (e *RunExecutor) Metrics() *metrics.Collector {
	return e.metrics
}

// Score evaluates overrides synchronously.
func (e *RunExecutor) Score(ctx context.Context, overrides map[string]float64) (*experiment.Result, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	objective := e.scorer.Objective().Name()
	res, err := e.scorer.Run(ctx, overrides)
	if err != nil {
		status := models.RunStatusFailed
		if classify(err) == models.ErrorKindCancelled {
			status = models.RunStatusCancelled
		}
		metrics.RecordOutcome(e.metrics, objective, metrics.ModeSync, status)
		return nil, err
	}
	metrics.RecordOutcome(e.metrics, objective, metrics.ModeSync, models.RunStatusCompleted)
	metrics.RecordExecution(e.metrics, objective, res.Duration, res.Solver, res.Score)
	return res, nil
}

// Shutdown cancels every active run and waits for them to return.
func (e *RunExecutor) Shutdown() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *RunExecutor) cleanup(runID string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	e.mu.Unlock()
}

func (e *RunExecutor) execute(ctx context.Context, rec RunRecord) {
	defer e.wg.Done()
	defer e.cleanup(rec.Run.ID)
	runID := rec.Run.ID

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.abandon(runID)
		return
	}
	defer func() { <-e.sem }()

	if _, err := e.store.SetStatus(runID, models.RunStatusRunning, "", models.ErrorKindNone); err != nil {
		// stopped while queued
		return
	}

	logger.Info("experiment started", "run_id", runID)
	res, err := e.scorer.Run(ctx, rec.Run.Overrides)
	if err != nil {
		kind := classify(err)
		if kind == models.ErrorKindCancelled && ctx.Err() != nil {
			e.abandon(runID)
			return
		}
		logger.Error("experiment failed", "run_id", runID, "error_kind", kind, "error", err)
		if _, setErr := e.finish(runID, models.RunStatusFailed, err.Error(), kind); setErr != nil && !errors.Is(setErr, ErrRunTerminal) {
			logger.Error("failed to set failed status", "run_id", runID, "error", setErr)
		}
		return
	}

	done, err := e.store.Complete(runID, res)
	if errors.Is(err, ErrRunTerminal) {
		logger.Info("discarding result of a finished run", "run_id", runID, "status", done.Run.Status)
		return
	}
	if err != nil {
		logger.Error("failed to store result", "run_id", runID, "error", err)
		return
	}
	metrics.RecordExecution(e.metrics, res.Objective, res.Duration, res.Solver, res.Score)
	e.announce(done)
	logger.Info("experiment finished", "run_id", runID, "score", res.Score, "objective", res.Objective)
}

// abandon marks a run cancelled when its context ended without Stop, which
// happens on Shutdown. Runs already stopped keep their record.
func (e *RunExecutor) abandon(runID string) {
	_, err := e.finish(runID, models.RunStatusCancelled, "executor shut down", models.ErrorKindCancelled)
	if err != nil && !errors.Is(err, ErrRunTerminal) {
		logger.Error("failed to set cancelled status", "run_id", runID, "error", err)
	}
}

// finish records a terminal status and posts the callback, if any.
func (e *RunExecutor) finish(runID string, status models.RunStatus, msg string, kind models.ErrorKind) (RunRecord, error) {
	rec, err := e.store.SetStatus(runID, status, msg, kind)
	if err != nil {
		return rec, err
	}
	e.announce(rec)
	return rec, nil
}

func (e *RunExecutor) announce(rec RunRecord) {
	metrics.RecordOutcome(e.metrics, e.scorer.Objective().Name(), metrics.ModeAsync, rec.Run.Status)
	if e.notifier != nil {
		e.notifier.Notify(rec.Callback, rec.Run)
	}
}
