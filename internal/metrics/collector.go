// Package metrics aggregates per-experiment measurements for the daemon.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregation holds summary statistics of one series.
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// SeriesSummary is the aggregation of one metric and label set.
type SeriesSummary struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Aggregation *Aggregation      `json:"aggregation"`
}

// Summary is a snapshot of every series, sorted by name then labels.
type Summary struct {
	StartTime time.Time       `json:"start_time"`
	Uptime    string          `json:"uptime"`
	Series    []SeriesSummary `json:"series"`
}

type series struct {
	labels map[string]string
	values []float64
}

// Collector collects metric values by name and label set. It is safe for
// concurrent use.
type Collector struct {
	mu sync.RWMutex

	startTime time.Time

	// metric name -> label key -> series
	series map[string]map[string]*series
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		series:    make(map[string]map[string]*series),
	}
}

// Record appends a value to the series identified by name and labels.
func (c *Collector) Record(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.series[name] == nil {
		c.series[name] = make(map[string]*series)
	}
	s := c.series[name][key]
	if s == nil {
		s = &series{labels: copyLabels(labels)}
		c.series[name][key] = s
	}
	s.values = append(s.values, value)
}

// Values returns a copy of the recorded values of one series.
func (c *Collector) Values(name string, labels map[string]string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.series[name][labelKey(labels)]
	if s == nil {
		return nil
	}
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// GetAggregation returns statistics of one series, or nil if it is empty.
func (c *Collector) GetAggregation(name string, labels map[string]string) *Aggregation {
	return calculateAggregation(c.Values(name, labels))
}

// Total aggregates a metric across every label set.
func (c *Collector) Total(name string) *Aggregation {
	c.mu.RLock()
	var all []float64
	for _, s := range c.series[name] {
		all = append(all, s.values...)
	}
	c.mu.RUnlock()
	return calculateAggregation(all)
}

// GetMetricNames returns all metric names that have been collected, sorted.
func (c *Collector) GetMetricNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSummary returns a summary of all collected metrics
func (c *Collector) GetSummary() *Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := &Summary{
		StartTime: c.startTime,
		Uptime:    time.Since(c.startTime).Round(time.Millisecond).String(),
		Series:    make([]SeriesSummary, 0),
	}
	for name, byLabels := range c.series {
		for _, s := range byLabels {
			summary.Series = append(summary.Series, SeriesSummary{
				Name:        name,
				Labels:      copyLabels(s.labels),
				Aggregation: calculateAggregation(s.values),
			})
		}
	}
	sort.Slice(summary.Series, func(i, j int) bool {
		a, b := summary.Series[i], summary.Series[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return labelKey(a.Labels) < labelKey(b.Labels)
	})
	return summary
}

// Clear clears all collected metrics
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.series = make(map[string]map[string]*series)
	c.startTime = time.Now()
}

// labelKey creates a key from labels for map lookup
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// calculateAggregation calculates aggregated statistics from values.
// Percentiles interpolate linearly between order statistics.
func calculateAggregation(values []float64) *Aggregation {
	if len(values) == 0 {
		return nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return &Aggregation{
		Count: int64(len(sorted)),
		Sum:   floats.Sum(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.LinInterp, sorted, nil),
		P95:   stat.Quantile(0.95, stat.LinInterp, sorted, nil),
		P99:   stat.Quantile(0.99, stat.LinInterp, sorted, nil),
	}
}
