package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/metrics"
)

// State represents the circuit breaker state.
// Closed: normal operation; HalfOpen: probing; Open: fail fast.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker instance.
type Config struct {
	Name string

	OperationTimeout    time.Duration // per-call timeout, 0 = caller's ctx only
	OpenFor             time.Duration // how long to stay open before probing
	MaxConsecFailures   int           // consecutive failures to open
	WindowSize          int           // sliding window of recent calls
	FailureRate         float64       // 0..1 fraction in window to open
	MinSamples          int           // window samples required before FailureRate applies
	HalfOpenMaxInFlight int           // concurrent probes while half-open

	// IsFailure decides whether an error counts against the upstream.
	// Nil means every non-nil error counts.
	IsFailure func(error) bool
}

// DefaultConfig is tuned for a public geocoding API.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		OpenFor:             30 * time.Second,
		MaxConsecFailures:   5,
		WindowSize:          20,
		FailureRate:         0.5,
		MinSamples:          10,
		HalfOpenMaxInFlight: 1,
	}
}

// ErrOpen indicates the breaker is open and calls are short-circuited.
var ErrOpen = errors.New("circuit open")

type Breaker struct {
	cfg        Config
	mu         sync.Mutex
	st         State
	nextProbe  time.Time
	consecFail int
	probes     int

	win  []bool // true = failure
	idx  int
	used int

	now func() time.Time
	log *logging.ComponentLogger

	mState   *metrics.Gauge
	mOpen    *metrics.Counter
	mReject  *metrics.Counter
	mFailure *metrics.Counter
	mLatency *metrics.Histogram
}

func New(cfg Config, log *logging.Logger) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.HalfOpenMaxInFlight <= 0 {
		cfg.HalfOpenMaxInFlight = 1
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if log == nil {
		log = logging.Nop()
	}
	prefix := "breaker_" + cfg.Name
	b := &Breaker{
		cfg:      cfg,
		st:       Closed,
		win:      make([]bool, cfg.WindowSize),
		now:      time.Now,
		log:      log.WithComponent("circuit"),
		mState:   metrics.Default.Gauge(prefix+"_state", "Breaker state (0=closed,1=open,2=half-open)"),
		mOpen:    metrics.Default.Counter(prefix+"_opens_total", "Breaker open transitions"),
		mReject:  metrics.Default.Counter(prefix+"_rejected_total", "Calls short-circuited while open"),
		mFailure: metrics.Default.Counter(prefix+"_failures_total", "Failed calls through breaker"),
		mLatency: metrics.Default.Histogram(prefix+"_latency_ms", "Latency of calls (ms)", metrics.LatencyBucketsMs),
	}
	b.mState.SetFloat64(0)
	return b
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

func (b *Breaker) setStateLocked(st State) {
	if b.st == st {
		return
	}
	b.st = st
	switch st {
	case Open:
		b.mOpen.Inc(1)
		b.nextProbe = b.now().Add(b.cfg.OpenFor)
	case HalfOpen:
		b.probes = 0
	case Closed:
		b.consecFail = 0
		b.used, b.idx = 0, 0
	}
	b.mState.SetFloat64(float64(st))
	b.log.Info("breaker state change", logging.String("name", b.cfg.Name), logging.String("state", st.String()))
}

// recordLocked adds a sample and opens the breaker when thresholds trip.
func (b *Breaker) recordLocked(failed bool) {
	b.win[b.idx] = failed
	b.idx = (b.idx + 1) % len(b.win)
	if b.used < len(b.win) {
		b.used++
	}
	if failed {
		b.consecFail++
	} else {
		b.consecFail = 0
	}

	if b.st != Closed {
		return
	}
	if b.cfg.MaxConsecFailures > 0 && b.consecFail >= b.cfg.MaxConsecFailures {
		b.setStateLocked(Open)
		return
	}
	if b.cfg.FailureRate > 0 && b.used >= b.cfg.MinSamples {
		fail := 0
		for i := 0; i < b.used; i++ {
			if b.win[i] {
				fail++
			}
		}
		if float64(fail)/float64(b.used) >= b.cfg.FailureRate {
			b.setStateLocked(Open)
		}
	}
}

// Do runs op under the breaker. While open it returns ErrOpen without calling op.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.st {
	case Open:
		if b.now().Before(b.nextProbe) {
			b.mu.Unlock()
			b.mReject.Inc(1)
			return ErrOpen
		}
		b.setStateLocked(HalfOpen)
		b.probes++
	case HalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxInFlight {
			b.mu.Unlock()
			b.mReject.Inc(1)
			return ErrOpen
		}
		b.probes++
	}
	b.mu.Unlock()

	if b.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	start := b.now()
	err := op(ctx)
	b.mLatency.Since(start)

	failed := err != nil
	if failed && b.cfg.IsFailure != nil {
		failed = b.cfg.IsFailure(err)
	}
	// caller cancellation says nothing about upstream health
	if failed && errors.Is(err, context.Canceled) {
		failed = false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.mFailure.Inc(1)
	}
	if b.st == HalfOpen {
		b.probes--
		if failed {
			b.setStateLocked(Open)
		} else {
			b.setStateLocked(Closed)
		}
		return err
	}
	b.recordLocked(failed)
	return err
}
