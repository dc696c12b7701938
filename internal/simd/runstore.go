package simd

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/utils"
)

// Callback is where a run's terminal state is posted.
type Callback struct {
	URL    string
	Secret string
}

// RunRecord is a snapshot of one stored experiment.
type RunRecord struct {
	Run      models.ExperimentRun
	Dataset  models.Dataset
	Callback Callback
}

// RunStore keeps experiment records in memory. Get and List return copies,
// so callers never observe a record mid-update.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]*RunRecord
	order []string
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunRecord),
	}
}

func (s *RunStore) Create(runID string, overrides map[string]float64, cb Callback) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = utils.GenerateID()
	}
	if _, exists := s.runs[runID]; exists {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	rec := &RunRecord{
		Run: models.ExperimentRun{
			ID:        runID,
			Status:    models.RunStatusPending,
			Overrides: maps.Clone(overrides),
			CreatedAt: time.Now().UTC(),
		},
		Callback: cb,
	}
	s.runs[runID] = rec
	s.order = append(s.order, runID)
	return rec.snapshot(), nil
}

func (s *RunStore) Get(runID string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return rec.snapshot(), true
}

// List returns up to limit records, newest first, skipping offset matches.
// An empty status matches every record.
func (s *RunStore) List(limit, offset int, status models.RunStatus) []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]RunRecord, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.runs[s.order[i]]
		if status != "" && rec.Run.Status != status {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, rec.snapshot())
	}
	return out
}

// SetStatus moves a record to status. Terminal records are never changed,
// so a run stopped by a client stays cancelled even if its execution
// finishes afterwards.
func (s *RunStore) SetStatus(runID string, status models.RunStatus, errMsg string, kind models.ErrorKind) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.IsTerminal() {
		return rec.snapshot(), fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	rec.Run.Status = status
	if errMsg != "" {
		rec.Run.Error = errMsg
		rec.Run.ErrorKind = kind
	}

	now := time.Now().UTC()
	switch {
	case status == models.RunStatusRunning:
		if rec.Run.StartedAt.IsZero() {
			rec.Run.StartedAt = now
		}
	case status.IsTerminal():
		rec.Run.EndedAt = now
	}
	return rec.snapshot(), nil
}

// Complete stores the outcome of a successful execution and marks the run
// completed in one step. A run that is already terminal keeps its record
// and ErrRunTerminal is returned.
func (s *RunStore) Complete(runID string, res *experiment.Result) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.IsTerminal() {
		return rec.snapshot(), fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	score := res.Score
	rec.Run.Score = &score
	rec.Run.Objective = res.Objective
	rec.Run.Settings = res.Settings.Map()
	rec.Run.Duration = res.Duration
	rec.Run.Solver = res.Solver
	rec.Dataset = res.Dataset

	now := time.Now().UTC()
	if rec.Run.StartedAt.IsZero() {
		rec.Run.StartedAt = now
	}
	rec.Run.Status = models.RunStatusCompleted
	rec.Run.EndedAt = now
	return rec.snapshot(), nil
}

func (r *RunRecord) snapshot() RunRecord {
	c := *r
	if r.Run.Score != nil {
		score := *r.Run.Score
		c.Run.Score = &score
	}
	return c
}
