package models

import (
	"fmt"
	"math"
)

// NumStates is the dimension of the integrated state vector.
const NumStates = 10

// State indices. Every consumer of a state vector (derivative model,
// auxiliary function, dataset export) uses this order.
const (
	Xv      = iota // viable cell density, cells/L
	Xt             // total cell density, cells/L
	Cglc           // glucose, mM
	Cgln           // glutamine, mM
	Clac           // lactate, mM
	Camm           // ammonia, mM
	Cmab           // antibody, mg/L
	Coxygen        // dissolved oxygen, % air saturation
	V              // culture volume, L
	PH             // pH
)

// StateNames are the dataset keys of the state components, in index order.
var StateNames = [NumStates]string{"Xv", "Xt", "Cglc", "Cgln", "Clac", "Camm", "Cmab", "Coxygen", "V", "pH"}

// State is the physical state of the culture.
type State [NumStates]float64

// Slice returns a copy of the state as a slice.
func (s State) Slice() []float64 {
	out := make([]float64, NumStates)
	copy(out, s[:])
	return out
}

// StateFromSlice copies a vector into a State, rejecting a wrong length.
func StateFromSlice(v []float64) (State, error) {
	var s State
	if len(v) != NumStates {
		return s, fmt.Errorf("state vector has %d values, want %d", len(v), NumStates)
	}
	copy(s[:], v)
	return s, nil
}

// IsFinite reports whether every component is neither NaN nor Inf.
func (s State) IsFinite() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// BatchConditions are the factor-controlled starting conditions of a run.
type BatchConditions struct {
	Cglc float64 `json:"Cglc"`
	Cgln float64 `json:"Cgln"`
	PH   float64 `json:"pH"`
	V    float64 `json:"V"`
	Xv   float64 `json:"Xv"`
}

// DefaultOxygen is the controlled dissolved-oxygen setpoint.
const DefaultOxygen = 100.0

// InitialState expands batch conditions into a full state: no dead cells and
// no by-products or antibody at inoculation.
func (b BatchConditions) InitialState() State {
	var s State
	s[Xv] = b.Xv
	s[Xt] = b.Xv
	s[Cglc] = b.Cglc
	s[Cgln] = b.Cgln
	s[Coxygen] = DefaultOxygen
	s[V] = b.V
	s[PH] = b.PH
	return s
}

// Validate rejects physically meaningless batch conditions.
func (b BatchConditions) Validate() error {
	if b.Xv <= 0 {
		return fmt.Errorf("Xv must be positive, got %g", b.Xv)
	}
	if b.V <= 0 {
		return fmt.Errorf("V must be positive, got %g", b.V)
	}
	if b.Cglc < 0 || b.Cgln < 0 {
		return fmt.Errorf("batch concentrations must be non-negative (Cglc=%g, Cgln=%g)", b.Cglc, b.Cgln)
	}
	return nil
}
