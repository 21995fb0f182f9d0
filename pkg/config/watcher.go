package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"delivery-geolocation/pkg/metrics"
)

// Change describes a configuration update event.
// Fields lists the keys that differ; "Zone" means the zone file was modified.
type Change struct {
	Old    *Config
	New    *Config
	Fields []string
	Err    error
}

// Has reports whether field is part of the change.
func (c Change) Has(field string) bool {
	for _, f := range c.Fields {
		if f == field {
			return true
		}
	}
	return false
}

const subBuf = 4

// Watcher polls the environment, an optional CONFIG_FILE (.env format) and
// the zone file, notifying subscribers when something they care about moved.
type Watcher struct {
	mu       sync.RWMutex
	cur      *Config
	closed   bool
	intv     time.Duration
	subs     []chan Change
	cancel   context.CancelFunc
	filePath string

	envMTime  time.Time
	zoneMTime time.Time

	mReloads  *metrics.Counter
	mFailures *metrics.Counter
}

func NewWatcher(interval time.Duration) *Watcher {
	w := &Watcher{
		intv:      interval,
		filePath:  strings.TrimSpace(os.Getenv("CONFIG_FILE")),
		mReloads:  metrics.Default.Counter("config_reload_total", "Total number of config reloads applied"),
		mFailures: metrics.Default.Counter("config_reload_failures_total", "Total number of rejected config reloads"),
	}
	w.cur = Load()
	w.envMTime = mtime(w.filePath)
	w.zoneMTime = mtime(w.cur.ZoneFile)
	return w
}

// Current returns the last accepted configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Subscribe returns a channel to receive Change notifications.
// Caller should drain the channel until it is closed.
func (w *Watcher) Subscribe() <-chan Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan Change, subBuf)
	if w.closed {
		close(ch)
		return ch
	}
	w.subs = append(w.subs, ch)
	return ch
}

// Close stops the watcher and closes subscriber channels.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.cancel != nil {
		w.cancel()
	}
	for _, s := range w.subs {
		close(s)
	}
	w.subs = nil
}

// Start begins polling in a goroutine. Later calls are no-ops.
func (w *Watcher) Start() {
	if w.intv <= 0 {
		return
	}
	w.mu.Lock()
	if w.cancel != nil || w.closed {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	t := time.NewTicker(w.intv)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.checkOnce()
		}
	}
}

func (w *Watcher) checkOnce() {
	if w.filePath != "" {
		if mt := mtime(w.filePath); mt.After(w.envMTime) {
			if err := godotenv.Overload(w.filePath); err != nil {
				w.mFailures.Inc(1)
				w.notify(Change{Old: w.Current(), Err: fmt.Errorf("reload %s: %w", w.filePath, err)})
				return
			}
			w.envMTime = mt
		}
	}

	old := w.Current()
	newCfg := Load()
	if err := newCfg.Validate(); err != nil {
		w.mFailures.Inc(1)
		w.notify(Change{Old: old, New: newCfg, Err: fmt.Errorf("invalid config: %w", err)})
		return
	}

	fields := diffKeys(old, newCfg)
	zm := mtime(newCfg.ZoneFile)
	if newCfg.ZoneFile != old.ZoneFile || zm.After(w.zoneMTime) {
		fields = append(fields, "Zone")
	}
	w.zoneMTime = zm
	if len(fields) == 0 {
		return
	}

	w.mReloads.Inc(1)
	w.mu.Lock()
	w.cur = newCfg
	w.mu.Unlock()
	w.notify(Change{Old: old, New: newCfg, Fields: fields})
}

func (w *Watcher) notify(chg Change) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.subs {
		select {
		case s <- chg:
		default:
			// slow subscriber; drop
		}
	}
}

// diffKeys lists the reloadable settings that differ. Ports and cache
// backends need a restart and are not reported.
func diffKeys(a, b *Config) []string {
	if a == nil || b == nil {
		return []string{"all"}
	}
	var f []string
	appendIf := func(cond bool, name string) {
		if cond {
			f = append(f, name)
		}
	}
	appendIf(a.LogLevel != b.LogLevel, "LogLevel")
	appendIf(a.LogFormat != b.LogFormat, "LogFormat")
	appendIf(a.EnableFileLogging != b.EnableFileLogging, "EnableFileLogging")
	appendIf(a.SearchLimit != b.SearchLimit, "SearchLimit")
	appendIf(a.DefaultProvince != b.DefaultProvince, "DefaultProvince")
	appendIf(a.GeorefRPS != b.GeorefRPS || a.GeorefBurst != b.GeorefBurst, "GeorefRate")
	appendIf(a.MetricsEnabled != b.MetricsEnabled || a.MetricsPath != b.MetricsPath, "Metrics")
	appendIf(a.ProfilingEnabled != b.ProfilingEnabled, "Profiling")
	return f
}

func mtime(path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
