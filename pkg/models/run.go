package models

import (
	"fmt"
	"sort"
)

// Signal is a control input as a pure function of time in hours. It must be
// safe to call at arbitrary, non-monotonic times.
type Signal func(t float64) float64

// FeedConcentrations are the substrate concentrations of the feed medium.
type FeedConcentrations struct {
	Glc float64 `json:"glc"` // mM
	Gln float64 `json:"gln"` // mM
}

// RunInput is everything a single model execution needs. It is passed by
// value so concurrent executions never share mutable configuration.
type RunInput struct {
	Batch       BatchConditions
	Feed        FeedConcentrations
	FeedRate    Signal // L/h
	Temp        Signal // degC
	Breakpoints []float64
}

// Execution is the outcome of one model execution: the sampled dataset and
// the integrator diagnostics that produced it.
type Execution struct {
	Dataset Dataset
	Solver  *SolverSummary
}

// TimeKey is the dataset key of the sample times.
const TimeKey = "time"

// Dataset maps a quantity name to its sampled sequence. All sequences are
// aligned with the "time" sequence.
type Dataset map[string][]float64

// MissingKeyError reports a dataset that lacks an expected quantity.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("dataset has no %q sequence", e.Key)
}

// Series returns a non-empty sequence by name.
func (d Dataset) Series(key string) ([]float64, error) {
	s, ok := d[key]
	if !ok || len(s) == 0 {
		return nil, &MissingKeyError{Key: key}
	}
	return s, nil
}

// Last returns the final sampled value of a quantity.
func (d Dataset) Last(key string) (float64, error) {
	s, err := d.Series(key)
	if err != nil {
		return 0, err
	}
	return s[len(s)-1], nil
}

// Keys returns the dataset keys sorted, with "time" first.
func (d Dataset) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		if k != TimeKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := d[TimeKey]; ok {
		keys = append([]string{TimeKey}, keys...)
	}
	return keys
}
