package control

import (
	"sort"

	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

// MLPerDayToLPerHour converts a daily feed volume in mL/day into the feed
// rate in L/h that the growth model consumes.
const MLPerDayToLPerHour = 1.0 / 1000.0 / 24.0

// Signals are the control inputs of one experiment.
//
// Feed and Temp are piecewise constant. An adaptive integrator that is not
// told where they jump can step over a short pulse entirely; pass
// Breakpoints to the integrator or bound its step size accordingly.
type Signals struct {
	Feed models.Signal // L/h
	Temp models.Signal // degC

	feed         Schedule
	prodStartEFT float64
}

// Build turns merged settings into the feed-rate and temperature signals.
// Both closures capture copies of the settings and are safe to call
// concurrently at any time.
func Build(s Settings) (Signals, error) {
	if err := s.Validate(); err != nil {
		return Signals{}, err
	}
	daily, err := DailySchedule(s.DayFeed)
	if err != nil {
		return Signals{}, &ConfigError{Key: FeedKey(0), Reason: err.Error()}
	}
	feed := daily.Scaled(MLPerDayToLPerHour)

	eft, batchT, prodT := s.ProdStartEFT, s.BatchTemp, s.ProdTemp
	return Signals{
		Feed:         feed.At,
		Temp:         TwoPhase(eft, batchT, prodT),
		feed:         feed,
		prodStartEFT: eft,
	}, nil
}

// TwoPhase returns a signal that is before for t < at and after otherwise.
func TwoPhase(at, before, after float64) models.Signal {
	return func(t float64) float64 {
		if t < at {
			return before
		}
		return after
	}
}

// FeedSchedule exposes the feed schedule in L/h.
func (sig Signals) FeedSchedule() Schedule {
	return sig.feed
}

// Breakpoints returns the sorted, de-duplicated times in (0, tEnd) at which
// either signal changes value.
func (sig Signals) Breakpoints(tEnd float64) []float64 {
	pts := sig.feed.Transitions(tEnd)
	if sig.prodStartEFT > 0 && sig.prodStartEFT < tEnd && sig.Temp(sig.prodStartEFT-1) != sig.Temp(sig.prodStartEFT) {
		pts = append(pts, sig.prodStartEFT)
	}
	sort.Float64s(pts)
	out := pts[:0]
	for _, p := range pts {
		if p <= 0 || (len(out) > 0 && p == out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}
