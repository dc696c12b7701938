package solver

import "math"

// Options controls the adaptive integrator. Zero values select defaults.
type Options struct {
	// MaxStep (hmax) bounds every internal step. This is a correctness
	// setting, not a performance knob: the integrator only sees the control
	// signals at the points it samples, so a step wider than the shortest
	// control pulse can jump over the pulse without any error being raised.
	// Keep MaxStep at or below the feed bucket width (24 h), and at most half
	// of the narrowest pulse when finer schedules are used, unless the
	// pulse edges are passed as breakpoints. Zero means the whole span.
	MaxStep float64

	// InitialStep, if > 0, is the size of the first attempted step.
	// Otherwise it is estimated from the initial derivative.
	InitialStep float64

	// MinStep is the smallest step the integrator will attempt before
	// giving up. It is always at least a few ulps of t.
	MinStep float64

	RelTol float64
	AbsTol float64

	// MaxSteps bounds the number of attempted steps over the whole span.
	MaxSteps int

	// MaxRejections bounds consecutive rejected attempts of a single step.
	MaxRejections int

	// WarnRejections is the number of consecutive rejections after which a
	// warning is recorded in Stats.
	WarnRejections int
}

// DefaultOptions returns the recommended settings for daily feed schedules.
// Every field except MaxStep is also the fallback for a zero field; a zero
// MaxStep falls back to the whole span, so callers that build Options by
// hand must set it themselves.
func DefaultOptions() Options {
	return Options{
		MaxStep:        1.0,
		RelTol:         1e-6,
		AbsTol:         1e-8,
		MaxSteps:       500000,
		MaxRejections:  60,
		WarnRejections: 8,
	}
}

// withDefaults fills zero fields. MaxStep falls back to the span length.
func (o Options) withDefaults(span float64) Options {
	d := DefaultOptions()
	if o.MaxStep <= 0 || math.IsInf(o.MaxStep, 1) {
		o.MaxStep = span
	}
	if o.RelTol <= 0 {
		o.RelTol = d.RelTol
	}
	if o.AbsTol <= 0 {
		o.AbsTol = d.AbsTol
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.MaxRejections <= 0 {
		o.MaxRejections = d.MaxRejections
	}
	if o.WarnRejections <= 0 {
		o.WarnRejections = d.WarnRejections
	}
	return o
}
