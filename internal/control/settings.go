package control

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
)

// DefaultFeedDays is the length of the default per-day feed schedule.
const DefaultFeedDays = 10

// Factor keys with a fixed name. Per-day feed keys are generated by FeedKey.
const (
	KeyBatchGlc     = "batch_glc"
	KeyBatchGln     = "batch_gln"
	KeyBatchPH      = "batch_pH"
	KeyFeedGlc      = "feed_glc"
	KeyFeedGln      = "feed_gln"
	KeyProdStartEFT = "prod_start_eft"
	KeyBatchTemp    = "batch_temp"
	KeyProdTemp     = "prod_temp"
)

// Factor documents one recognised setting: its valid range, default, unit
// and meaning.
type Factor struct {
	Key         string  `json:"key"`
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Default     float64 `json:"default"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
}

// Contains reports whether v lies in the closed range of the factor.
func (f Factor) Contains(v float64) bool {
	return v >= f.Lower && v <= f.Upper
}

var scalarFactors = []Factor{
	{KeyBatchGlc, 0, 300, 45, "mM", "starting glucose conc. in batch media"},
	{KeyBatchGln, 0, 50, 5.7, "mM", "starting glutamine conc. in batch media"},
	{KeyBatchPH, 6.7, 7.4, 6.90, "-", "controlled pH value"},
	{KeyFeedGlc, 50, 300, 140, "mM", "glucose conc. in feed"},
	{KeyFeedGln, 0, 50, 5, "mM", "glutamine conc. in feed"},
	{KeyProdStartEFT, 24, 24 * 10, 72, "hrs", "time marking shift from batch to production"},
	{KeyBatchTemp, 33, 40, 37, "degC", "T of batch phase"},
	{KeyProdTemp, 33, 40, 37, "degC", "T of production phase"},
}

// defaultDayFeed is the default daily feed volume in mL/day: a two-day bolus
// on days 4 and 5.
func defaultDayFeed(day int) float64 {
	if day == 4 || day == 5 {
		return 1.75
	}
	return 0
}

// FeedKey returns the factor key of a day's feed volume.
func FeedKey(day int) string {
	return "day_" + strconv.Itoa(day) + "_feed"
}

var feedKeyPattern = regexp.MustCompile(`^day_(0|[1-9][0-9]*)_feed$`)

// Factors returns the factor table for a schedule of the given number of
// days, scalar factors first, then day_0_feed onward.
func Factors(days int) []Factor {
	out := make([]Factor, 0, len(scalarFactors)+days)
	out = append(out, scalarFactors...)
	for d := 0; d < days; d++ {
		out = append(out, feedFactor(d))
	}
	return out
}

func feedFactor(day int) Factor {
	return Factor{
		Key:         FeedKey(day),
		Lower:       0,
		Upper:       50,
		Default:     defaultDayFeed(day),
		Unit:        "mL/day",
		Description: "feed in mL/day",
	}
}

// LookupFactor returns the table entry of a scalar or per-day factor key.
func LookupFactor(key string) (Factor, bool) {
	for _, f := range scalarFactors {
		if f.Key == key {
			return f, true
		}
	}
	if day, ok := parseFeedKey(key); ok {
		return feedFactor(day), true
	}
	return Factor{}, false
}

// Settings is the full set of factor values for one experiment.
type Settings struct {
	BatchGlc     float64   // mM
	BatchGln     float64   // mM
	BatchPH      float64   // -
	FeedGlc      float64   // mM
	FeedGln      float64   // mM
	ProdStartEFT float64   // h
	BatchTemp    float64   // degC
	ProdTemp     float64   // degC
	DayFeed      []float64 // mL/day, index is the day
}

// Defaults returns the documented default settings with a ten-day schedule.
func Defaults() Settings {
	return DefaultsForDays(DefaultFeedDays)
}

// DefaultsForDays returns the default settings with an n-day feed schedule.
func DefaultsForDays(days int) Settings {
	var s Settings
	for _, f := range Factors(days) {
		// every key in the table is settable
		_ = s.Set(f.Key, f.Default)
	}
	return s
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.DayFeed = append([]float64(nil), s.DayFeed...)
	return c
}

// Days is the number of explicitly scheduled feed days.
func (s Settings) Days() int {
	return len(s.DayFeed)
}

// Set assigns a factor by key. Per-day keys may extend the schedule by at
// most one day at a time; gaps are rejected.
func (s *Settings) Set(key string, v float64) error {
	switch key {
	case KeyBatchGlc:
		s.BatchGlc = v
	case KeyBatchGln:
		s.BatchGln = v
	case KeyBatchPH:
		s.BatchPH = v
	case KeyFeedGlc:
		s.FeedGlc = v
	case KeyFeedGln:
		s.FeedGln = v
	case KeyProdStartEFT:
		s.ProdStartEFT = v
	case KeyBatchTemp:
		s.BatchTemp = v
	case KeyProdTemp:
		s.ProdTemp = v
	default:
		day, ok := parseFeedKey(key)
		if !ok {
			return &ConfigError{Key: key, Value: v, Reason: "unknown factor"}
		}
		switch {
		case day < len(s.DayFeed):
			s.DayFeed[day] = v
		case day == len(s.DayFeed):
			s.DayFeed = append(s.DayFeed, v)
		default:
			return &ConfigError{Key: key, Value: v, Reason: fmt.Sprintf("schedule has %d days", len(s.DayFeed))}
		}
	}
	return nil
}

// Get returns a factor by key.
func (s Settings) Get(key string) (float64, bool) {
	switch key {
	case KeyBatchGlc:
		return s.BatchGlc, true
	case KeyBatchGln:
		return s.BatchGln, true
	case KeyBatchPH:
		return s.BatchPH, true
	case KeyFeedGlc:
		return s.FeedGlc, true
	case KeyFeedGln:
		return s.FeedGln, true
	case KeyProdStartEFT:
		return s.ProdStartEFT, true
	case KeyBatchTemp:
		return s.BatchTemp, true
	case KeyProdTemp:
		return s.ProdTemp, true
	}
	day, ok := parseFeedKey(key)
	if !ok || day >= len(s.DayFeed) {
		return 0, false
	}
	return s.DayFeed[day], true
}

// Keys lists every factor key of these settings in table order.
func (s Settings) Keys() []string {
	factors := Factors(s.Days())
	keys := make([]string, len(factors))
	for i, f := range factors {
		keys[i] = f.Key
	}
	return keys
}

// Map flattens the settings into a key/value map.
func (s Settings) Map() map[string]float64 {
	out := make(map[string]float64, len(scalarFactors)+s.Days())
	for _, k := range s.Keys() {
		v, _ := s.Get(k)
		out[k] = v
	}
	return out
}

// Validate checks every factor against its documented range.
func (s Settings) Validate() error {
	if s.Days() == 0 {
		return &ConfigError{Key: FeedKey(0), Reason: "feed schedule is empty"}
	}
	for _, f := range Factors(s.Days()) {
		v, _ := s.Get(f.Key)
		if math.IsNaN(v) || !f.Contains(v) {
			return &ConfigError{
				Key:    f.Key,
				Value:  v,
				Reason: fmt.Sprintf("outside [%g, %g] %s", f.Lower, f.Upper, f.Unit),
			}
		}
	}
	return nil
}

// Merge overlays overrides on the default settings and validates the result.
// Unknown keys are rejected; keys not supplied keep their defaults.
func Merge(overrides map[string]float64) (Settings, error) {
	return MergeOver(Defaults(), overrides)
}

// MergeOver overlays overrides on base, which is left untouched.
func MergeOver(base Settings, overrides map[string]float64) (Settings, error) {
	s := base.Clone()
	// Day keys are applied in ascending order so that extending the schedule
	// does not depend on map iteration order.
	var dayKeys []int
	for k, v := range overrides {
		if day, ok := parseFeedKey(k); ok && day >= s.Days() {
			dayKeys = append(dayKeys, day)
			continue
		}
		if err := s.Set(k, v); err != nil {
			return Settings{}, err
		}
	}
	sort.Ints(dayKeys)
	for _, day := range dayKeys {
		k := FeedKey(day)
		if err := s.Set(k, overrides[k]); err != nil {
			return Settings{}, err
		}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func parseFeedKey(key string) (int, bool) {
	m := feedKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	day, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return day, true
}
