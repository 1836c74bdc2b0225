// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the gateway. It renders the text exposition format without
// pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // series key -> *Counter
	gauges     sync.Map // series key -> *Gauge
	histograms sync.Map // series key -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Labels renders label pairs in Prometheus syntax, sorted by name.
// Labels("platform", "discord", "instance", "dc-1") yields
// `instance="dc-1",platform="discord"`.
func Labels(kv ...string) string {
	if len(kv) < 2 {
		return ""
	}
	pairs := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(kv[i+1])
		pairs = append(pairs, kv[i]+`="`+v+`"`)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values. Buckets are
// cumulative; +Inf is implied by the count.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
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

func seriesKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates the counter series name{labels}.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := seriesKey(name, labels)
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge series name{labels}.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := seriesKey(name, labels)
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram series name{labels}.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

type family struct {
	name, help, kind string
	lines            []string
}

// Render writes every series in the text exposition format, grouped by
// metric name and sorted for stable output.
func (c *MetricsCollector) Render() string {
	families := map[string]*family{}
	get := func(name, help, kind string) *family {
		f, ok := families[name]
		if !ok {
			f = &family{name: name, help: help, kind: kind}
			families[name] = f
		}
		return f
	}
	sample := func(name, labels string, v any) string {
		if labels == "" {
			return fmt.Sprintf("%s %v", name, v)
		}
		return fmt.Sprintf("%s{%s} %v", name, labels, v)
	}

	c.counters.Range(func(_, value any) bool {
		ctr := value.(*Counter)
		f := get(ctr.name, ctr.help, "counter")
		f.lines = append(f.lines, sample(ctr.name, ctr.labels, ctr.Value()))
		return true
	})
	c.gauges.Range(func(_, value any) bool {
		g := value.(*Gauge)
		f := get(g.name, g.help, "gauge")
		f.lines = append(f.lines, sample(g.name, g.labels, g.Value()))
		return true
	})
	c.histograms.Range(func(_, value any) bool {
		h := value.(*Histogram)
		h.mu.Lock()
		defer h.mu.Unlock()
		f := get(h.name, h.help, "histogram")
		sep := ""
		if h.labels != "" {
			sep = h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			f.lines = append(f.lines, fmt.Sprintf("%s_bucket{%sle=%q} %d", h.name, sep, le, b.count))
		}
		f.lines = append(f.lines,
			fmt.Sprintf("%s_bucket{%sle=\"+Inf\"} %d", h.name, sep, h.count),
			sample(h.name+"_count", h.labels, h.count),
			sample(h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum)),
		)
		return true
	})

	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP omnigate_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE omnigate_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "omnigate_uptime_seconds %d\n", int64(c.Uptime().Seconds()))
	for _, n := range names {
		f := families[n]
		if f.kind != "histogram" {
			sort.Strings(f.lines)
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		for _, l := range f.lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Handler serves Render over HTTP.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}
