// Package metrics exposes relay counters in the Prometheus text exposition
// format. It is intentionally small: a handful of counters, one gauge and one
// latency histogram, rendered by hand.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide registry the relay reports to.
var Default = NewRegistry("relaybot")

// Registry aggregates counters, gauges and histograms.
type Registry struct {
	namespace  string
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

// NewRegistry creates an empty registry. Metric names are prefixed with namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

type desc struct {
	name   string
	help   string
	labels string
}

func (d desc) series(suffix, extra string) string {
	labels := d.labels
	if extra != "" {
		if labels != "" {
			labels += ","
		}
		labels += extra
	}
	if labels == "" {
		return d.name + suffix
	}
	return d.name + suffix + "{" + labels + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	desc
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	desc
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter with the given name and labels, creating it on first use.
// labels use the exposition syntax, e.g. `mode="html"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	name = r.namespace + "_" + name
	k := key(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[k]; ok {
		return c
	}
	c := &Counter{desc: desc{name: name, help: help, labels: labels}}
	r.counters[k] = c
	return c
}

// Gauge returns the gauge with the given name and labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	name = r.namespace + "_" + name
	k := key(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[k]; ok {
		return g
	}
	g := &Gauge{desc: desc{name: name, help: help, labels: labels}}
	r.gauges[k] = g
	return g
}

// Histogram returns the histogram with the given name, creating it on first use.
// A +Inf bucket is always present.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	name = r.namespace + "_" + name
	k := key(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[k]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	if len(b) == 0 || !math.IsInf(b[len(b)-1], 1) {
		b = append(b, math.Inf(1))
	}
	h := &Histogram{desc: desc{name: name, help: help, labels: labels}, bounds: b, buckets: make([]int64, len(b))}
	r.histograms[k] = h
	return h
}

// WriteTo renders every metric in the Prometheus text format, sorted by series.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	uptime := r.namespace + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", uptime)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", uptime)
	fmt.Fprintf(&sb, "%s %d\n", uptime, int64(r.Uptime().Seconds()))

	r.mu.RLock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.RUnlock()

	seen := make(map[string]bool)
	header := func(d desc, kind string) {
		if seen[d.name] {
			return
		}
		seen[d.name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n", d.name, d.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", d.name, kind)
	}

	for _, c := range counters {
		header(c.desc, "counter")
		fmt.Fprintf(&sb, "%s %d\n", c.series("", ""), c.Value())
	}
	for _, g := range gauges {
		header(g.desc, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", g.series("", ""), g.Value())
	}
	for _, h := range histograms {
		header(h.desc, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s %d\n", h.series("_bucket", `le="`+bound+`"`), h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %f\n", h.series("_sum", ""), h.sum)
		fmt.Fprintf(&sb, "%s %d\n", h.series("_count", ""), h.count)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	}
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
