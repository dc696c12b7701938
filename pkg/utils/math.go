package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ClampFloat64 clamps a float64 value between min and max
func ClampFloat64(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Round rounds a float64 to the specified number of decimal places
func Round(value float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(value*multiplier) / multiplier
}

// Linspace returns n evenly spaced points from start to stop inclusive.
// The last point is exactly stop.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	pts := floats.Span(make([]float64, n), start, stop)
	pts[n-1] = stop
	return pts
}

// AllFinite reports whether no value is NaN or Inf
func AllFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Lerp maps u in [0, 1] onto [lo, hi], clamping u first
func Lerp(lo, hi, u float64) float64 {
	return lo + (hi-lo)*ClampFloat64(u, 0, 1)
}

// InvLerp maps v in [lo, hi] onto [0, 1]. A degenerate range maps to 0.
func InvLerp(lo, hi, v float64) float64 {
	if hi == lo {
		return 0
	}
	return ClampFloat64((v-lo)/(hi-lo), 0, 1)
}
