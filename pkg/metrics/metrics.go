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

// Dependency-free metrics with Prometheus text exposition.
// Atomic values, one mutex-protected registry.

// Counter is a monotonically increasing number.
type Counter struct {
	name string
	help string
	val  int64
}

func (c *Counter) Inc(delta int64) { atomic.AddInt64(&c.val, delta) }
func (c *Counter) Get() int64      { return atomic.LoadInt64(&c.val) }

// Gauge is an arbitrary number that can go up and down.
type Gauge struct {
	name string
	help string
	bits uint64 // float64 bits
}

func (g *Gauge) SetFloat64(v float64) { atomic.StoreUint64(&g.bits, math.Float64bits(v)) }
func (g *Gauge) AddFloat64(delta float64) {
	for {
		old := atomic.LoadUint64(&g.bits)
		nv := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(&g.bits, old, math.Float64bits(nv)) {
			return
		}
	}
}
func (g *Gauge) GetFloat64() float64 { return math.Float64frombits(atomic.LoadUint64(&g.bits)) }

// Histogram with fixed upper bounds; the last bound is always +Inf.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     uint64 // float64 bits
	count   uint64
}

func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.buckets, v)
	if i >= len(h.counts) {
		i = len(h.counts) - 1
	}
	atomic.AddUint64(&h.counts[i], 1)
	atomic.AddUint64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		nv := math.Float64frombits(old) + v
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(nv)) {
			return
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 { return atomic.LoadUint64(&h.count) }

// Since observes the elapsed milliseconds from start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(float64(time.Since(start)) / float64(time.Millisecond))
}

// Registry holds all metrics.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

var Default = NewRegistry()

// LatencyBucketsMs fits upstream HTTP calls to Georef and Nominatim.
var LatencyBucketsMs = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

func (r *Registry) Counter(name, help string) *Counter {
	name = sanitize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

func (r *Registry) Gauge(name, help string) *Gauge {
	name = sanitize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	name = sanitize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	sorted := append([]float64{}, buckets...)
	sort.Float64s(sorted)
	if len(sorted) == 0 || !math.IsInf(sorted[len(sorted)-1], 1) {
		sorted = append(sorted, math.Inf(1))
	}
	h := &Histogram{name: name, help: help, buckets: sorted, counts: make([]uint64, len(sorted))}
	r.histograms[name] = h
	return h
}

// WriteText renders every metric in Prometheus text format, sorted by name.
func (r *Registry) WriteText(w io.Writer) {
	r.mu.RLock()
	counters := values(r.counters)
	gauges := values(r.gauges)
	histograms := values(r.histograms)
	r.mu.RUnlock()

	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, escapeHelp(c.help))
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.Get())
	}
	for _, g := range gauges {
		fmt.Fprintf(w, "# HELP %s %s\n", g.name, escapeHelp(g.help))
		fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(w, "%s %g\n", g.name, g.GetFloat64())
	}
	for _, h := range histograms {
		fmt.Fprintf(w, "# HELP %s %s\n", h.name, escapeHelp(h.help))
		fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)
		var cum uint64
		for i, ub := range h.buckets {
			cum += atomic.LoadUint64(&h.counts[i])
			le := fmt.Sprintf("%g", ub)
			if math.IsInf(ub, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", h.name, le, cum)
		}
		fmt.Fprintf(w, "%s_sum %g\n", h.name, math.Float64frombits(atomic.LoadUint64(&h.sum)))
		fmt.Fprintf(w, "%s_count %d\n", h.name, h.Count())
	}
}

// Handler exposes the registry in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WriteText(w)
	})
}

// Handler is the Default registry's handler.
func Handler() http.Handler { return Default.Handler() }

func sanitize(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	return s
}

func escapeHelp(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

func values[T any](m map[string]*T) []*T {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([]*T, 0, len(ks))
	for _, k := range ks {
		out = append(out, m[k])
	}
	return out
}
