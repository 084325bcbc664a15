// Package metrics collects counters, gauges, and histograms for the
// database's internal operations, backed by prometheus client types against
// a private registry (never exposed over HTTP — this module has no server
// surface to expose it on).
package metrics

import (
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector collects and aggregates metrics behind a registry that is
// created fresh per Collector, so multiple Collectors (e.g. one per test)
// never collide on metric names.
type Collector struct {
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Histogram

	startTime time.Time
}

// NewCollector creates a new metrics collector with its own registry.
func NewCollector() *Collector {
	return &Collector{
		registry:  prometheus.NewRegistry(),
		counters:  make(map[string]prometheus.Counter),
		gauges:    make(map[string]prometheus.Gauge),
		histos:    make(map[string]prometheus.Histogram),
		startTime: time.Now(),
	}
}

func sanitizeName(name string) string {
	// prometheus metric names must match [a-zA-Z_:][a-zA-Z0-9_:]*; callers in
	// this codebase already use snake_case names, but guard against the odd
	// dotted name slipping through.
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == ':':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func (c *Collector) counter(name string) prometheus.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[name]; ok {
		return ctr
	}
	ctr := prometheus.NewCounter(prometheus.CounterOpts{Name: sanitizeName(name)})
	c.registry.MustRegister(ctr)
	c.counters[name] = ctr
	return ctr
}

func (c *Collector) gauge(name string) prometheus.Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitizeName(name)})
	c.registry.MustRegister(g)
	c.gauges[name] = g
	return g
}

func (c *Collector) histogram(name string) prometheus.Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histos[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    sanitizeName(name),
		Buckets: prometheus.DefBuckets,
	})
	c.registry.MustRegister(h)
	c.histos[name] = h
	return h
}

// Counter increments a counter metric by delta, creating it on first use.
// delta must be non-negative, matching prometheus.Counter's own contract.
func (c *Collector) Counter(name string, delta int64) {
	if delta < 0 {
		delta = 0
	}
	c.counter(name).Add(float64(delta))
}

// Gauge sets a gauge metric, creating it on first use.
func (c *Collector) Gauge(name string, value int64) {
	c.gauge(name).Set(float64(value))
}

// Histogram records an observation, creating the histogram on first use.
func (c *Collector) Histogram(name string, value float64) {
	c.histogram(name).Observe(value)
}

// GetCounter returns a counter's current value, or 0 if it doesn't exist.
func (c *Collector) GetCounter(name string) int64 {
	c.mu.Lock()
	ctr, ok := c.counters[name]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	var m dto.Metric
	if err := ctr.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// GetGauge returns a gauge's current value, or 0 if it doesn't exist.
func (c *Collector) GetGauge(name string) int64 {
	c.mu.Lock()
	g, ok := c.gauges[name]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetGauge().GetValue())
}

// HistogramStats summarizes a histogram's observations.
type HistogramStats struct {
	Count uint64
	Sum   float64
	Mean  float64
}

// GetHistogram returns a histogram's summary stats, or nil if it doesn't
// exist.
func (c *Collector) GetHistogram(name string) *HistogramStats {
	c.mu.Lock()
	h, ok := c.histos[name]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return nil
	}
	hist := m.GetHistogram()
	stats := &HistogramStats{
		Count: hist.GetSampleCount(),
		Sum:   hist.GetSampleSum(),
	}
	if stats.Count > 0 {
		stats.Mean = stats.Sum / float64(stats.Count)
	}
	return stats
}

// Snapshot holds a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp  time.Time
	Uptime     time.Duration
	Counters   map[string]int64
	Gauges     map[string]int64
	Histograms map[string]*HistogramStats
}

// Snapshot returns all metrics as a point-in-time snapshot.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	names := struct {
		counters []string
		gauges   []string
		histos   []string
	}{}
	for name := range c.counters {
		names.counters = append(names.counters, name)
	}
	for name := range c.gauges {
		names.gauges = append(names.gauges, name)
	}
	for name := range c.histos {
		names.histos = append(names.histos, name)
	}
	c.mu.Unlock()

	snap := &Snapshot{
		Timestamp:  time.Now(),
		Uptime:     time.Since(c.startTime),
		Counters:   make(map[string]int64, len(names.counters)),
		Gauges:     make(map[string]int64, len(names.gauges)),
		Histograms: make(map[string]*HistogramStats, len(names.histos)),
	}
	for _, name := range names.counters {
		snap.Counters[name] = c.GetCounter(name)
	}
	for _, name := range names.gauges {
		snap.Gauges[name] = c.GetGauge(name)
	}
	for _, name := range names.histos {
		snap.Histograms[name] = c.GetHistogram(name)
	}
	return snap
}

// Reset discards every metric and registry entry, starting fresh.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry = prometheus.NewRegistry()
	c.counters = make(map[string]prometheus.Counter)
	c.gauges = make(map[string]prometheus.Gauge)
	c.histos = make(map[string]prometheus.Histogram)
	c.startTime = time.Now()
}
