package control

import (
	"fmt"
	"math"
)

// BucketHours is the width of one feed bucket: one culture day.
const BucketHours = 24.0

// Step is the value held for one bucket of a schedule.
type Step struct {
	Bucket int
	Value  float64
}

// Schedule is a piecewise-constant function of time built from ordered
// (bucket, value) steps. A step's value holds from the start of its bucket
// until the next step's bucket begins. After the last step the last value
// holds forever, and times before the first bucket take the first value.
type Schedule struct {
	width float64
	steps []Step
}

// NewSchedule validates steps and builds a schedule. Buckets must be
// non-negative and strictly increasing; gaps hold the previous value.
func NewSchedule(width float64, steps []Step) (Schedule, error) {
	if !(width > 0) || math.IsInf(width, 0) {
		return Schedule{}, fmt.Errorf("schedule width must be positive and finite, got %g", width)
	}
	if len(steps) == 0 {
		return Schedule{}, fmt.Errorf("schedule needs at least one step")
	}
	for i, st := range steps {
		if st.Bucket < 0 {
			return Schedule{}, fmt.Errorf("step %d: negative bucket %d", i, st.Bucket)
		}
		if i > 0 && st.Bucket <= steps[i-1].Bucket {
			return Schedule{}, fmt.Errorf("step %d: bucket %d not after %d", i, st.Bucket, steps[i-1].Bucket)
		}
		if math.IsNaN(st.Value) || math.IsInf(st.Value, 0) {
			return Schedule{}, fmt.Errorf("step %d: value must be finite", i)
		}
	}
	return Schedule{width: width, steps: append([]Step(nil), steps...)}, nil
}

// DailySchedule builds a schedule with one step per day from values.
func DailySchedule(values []float64) (Schedule, error) {
	steps := make([]Step, len(values))
	for i, v := range values {
		steps[i] = Step{Bucket: i, Value: v}
	}
	return NewSchedule(BucketHours, steps)
}

// Bucket returns floor(t/width), clamped at zero.
func (s Schedule) Bucket(t float64) int {
	b := math.Floor(t / s.width)
	if b < 0 || math.IsNaN(b) {
		return 0
	}
	if b > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(b)
}

// At returns the scheduled value at time t. It never fails for any t.
func (s Schedule) At(t float64) float64 {
	b := s.Bucket(t)
	// last step whose bucket <= b
	lo, hi := 0, len(s.steps)-1
	if b >= s.steps[hi].Bucket {
		return s.steps[hi].Value
	}
	if b <= s.steps[0].Bucket {
		return s.steps[0].Value
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.steps[mid].Bucket <= b {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return s.steps[lo].Value
}

// Steps returns a copy of the schedule's steps.
func (s Schedule) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Width returns the bucket width in hours.
func (s Schedule) Width() float64 {
	return s.width
}

// Scaled returns a schedule with every value multiplied by k.
func (s Schedule) Scaled(k float64) Schedule {
	out := Schedule{width: s.width, steps: make([]Step, len(s.steps))}
	for i, st := range s.steps {
		out.steps[i] = Step{Bucket: st.Bucket, Value: st.Value * k}
	}
	return out
}

// Transitions returns the times in [0, tEnd) at which the value changes.
func (s Schedule) Transitions(tEnd float64) []float64 {
	var out []float64
	for i := 1; i < len(s.steps); i++ {
		if s.steps[i].Value == s.steps[i-1].Value {
			continue
		}
		t := float64(s.steps[i].Bucket) * s.width
		if t >= tEnd {
			break
		}
		out = append(out, t)
	}
	return out
}
