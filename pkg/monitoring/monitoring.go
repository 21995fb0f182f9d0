package monitoring

import (
	"encoding/json"
	"net/http"
	pp "net/http/pprof"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/metrics"
)

const (
	RequestIDHeader = "X-Request-ID"
	SessionIDHeader = "X-Session-ID"
)

// Metrics keeps the last N request durations for quantiles and mirrors
// totals into the Prometheus registry.
type Metrics struct {
	mu        sync.Mutex
	durations []float64 // ms, ring buffer
	idx       int
	count     int64
	n         int

	mRequests *metrics.Counter
	mErrors   *metrics.Counter
	mLatency  *metrics.Histogram
}

func NewMetrics(capacity int) *Metrics {
	if capacity <= 0 {
		capacity = 256
	}
	return &Metrics{
		durations: make([]float64, capacity),
		n:         capacity,
		mRequests: metrics.Default.Counter("http_requests_total", "HTTP requests served"),
		mErrors:   metrics.Default.Counter("http_errors_total", "HTTP responses with status >= 500"),
		mLatency:  metrics.Default.Histogram("http_request_duration_ms", "HTTP request duration (ms)", metrics.LatencyBucketsMs),
	}
}

// Observe records one request.
func (m *Metrics) Observe(ms float64, status int) {
	m.mu.Lock()
	m.durations[m.idx] = ms
	m.idx = (m.idx + 1) % m.n
	m.count++
	m.mu.Unlock()

	m.mRequests.Inc(1)
	m.mLatency.Observe(ms)
	if status >= 500 {
		m.mErrors.Inc(1)
	}
}

// Snapshot returns the total count plus avg/p50/p95 over recent samples.
func (m *Metrics) Snapshot() (count int64, avg, p50, p95 float64) {
	m.mu.Lock()
	var samples []float64
	if m.count < int64(m.n) {
		samples = append(samples, m.durations[:m.idx]...)
	} else {
		samples = append(samples, m.durations...)
	}
	count = m.count
	m.mu.Unlock()

	if len(samples) == 0 {
		return count, 0, 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	sort.Float64s(samples)
	return count, sum / float64(len(samples)), samples[(len(samples)*50)/100], samples[(len(samples)*95)/100]
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(statusCode int) {
	sw.statusCode = statusCode
	sw.ResponseWriter.WriteHeader(statusCode)
}

// Middleware tags each request with a request ID (reusing X-Request-ID
// when the caller sent one), carries X-Session-ID into the context, and
// records duration and status.
func Middleware(m *Metrics, log *logging.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logging.Nop()
	}
	cl := log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rid := r.Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, rid)
			ctx := logging.WithRequestID(r.Context(), rid)
			if sid := r.Header.Get(SessionIDHeader); sid != "" {
				ctx = logging.WithSessionID(ctx, sid)
			}
			r = r.WithContext(ctx)

			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			dur := time.Since(start)
			m.Observe(float64(dur.Microseconds())/1000.0, sw.statusCode)
			cl.WithContext(ctx).Debug("request served",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", sw.statusCode),
				logging.Duration("duration", dur))
		})
	}
}

// RuntimeHandler exposes request quantiles and runtime stats as JSON.
func RuntimeHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		count, avg, p50, p95 := m.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"time":             time.Now().Format(time.RFC3339),
			"requests_total":   count,
			"duration_ms_avg":  avg,
			"duration_ms_p50":  p50,
			"duration_ms_p95":  p95,
			"goroutines":       runtime.NumGoroutine(),
			"mem_alloc_bytes":  ms.Alloc,
			"heap_inuse_bytes": ms.HeapInuse,
			"gc_num":           ms.NumGC,
		})
	})
}

// RegisterPprof mounts the pprof handlers under /debug/pprof/.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pp.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pp.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pp.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pp.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pp.Trace)
}

// EnableProfiling toggles block and mutex sampling.
func EnableProfiling(enabled bool) {
	if enabled {
		runtime.SetBlockProfileRate(1)
		runtime.SetMutexProfileFraction(5)
		return
	}
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
}

// AdminMux serves the Prometheus registry at metricsPath, runtime stats at
// /debug/vars and, when profiling is on, pprof.
func AdminMux(m *Metrics, metricsPath string, profiling bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())
	mux.Handle("/debug/vars", RuntimeHandler(m))
	if profiling {
		RegisterPprof(mux)
	}
	return mux
}
