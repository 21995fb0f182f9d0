package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"delivery-geolocation/pkg/circuit"
	"delivery-geolocation/pkg/logging"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ComponentHealth is the outcome of one checker run.
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

type SystemHealth struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Summary    HealthSummary              `json:"summary"`
}

type HealthSummary struct {
	TotalComponents int `json:"total_components"`
	HealthyCount    int `json:"healthy_count"`
	DegradedCount   int `json:"degraded_count"`
	UnhealthyCount  int `json:"unhealthy_count"`
	UnknownCount    int `json:"unknown_count"`
}

type HealthChecker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

type HealthCheckFunc struct {
	name string
	fn   func(ctx context.Context) ComponentHealth
}

func (hcf HealthCheckFunc) Check(ctx context.Context) ComponentHealth { return hcf.fn(ctx) }
func (hcf HealthCheckFunc) Name() string                              { return hcf.name }

func NewHealthCheckFunc(name string, fn func(ctx context.Context) ComponentHealth) HealthChecker {
	return HealthCheckFunc{name: name, fn: fn}
}

// HealthManager runs registered checkers concurrently and caches the
// last result of each.
type HealthManager struct {
	checkers  map[string]HealthChecker
	results   map[string]ComponentHealth
	startTime time.Time
	version   string
	timeout   time.Duration
	logger    *logging.ComponentLogger
	mu        sync.RWMutex
}

type HealthConfig struct {
	Timeout time.Duration `json:"timeout"`
	Version string        `json:"version"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{Timeout: 5 * time.Second, Version: "1.0.0"}
}

func NewHealthManager(config HealthConfig, logger *logging.Logger) *HealthManager {
	if logger == nil {
		logger = logging.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultHealthConfig().Timeout
	}
	return &HealthManager{
		checkers:  make(map[string]HealthChecker),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		version:   config.Version,
		timeout:   config.Timeout,
		logger:    logger.WithComponent("health"),
	}
}

func (hm *HealthManager) RegisterChecker(checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	name := checker.Name()
	hm.checkers[name] = checker
	hm.results[name] = ComponentHealth{Name: name, Status: HealthStatusUnknown}
	hm.logger.Info("registered health checker", logging.String("checker", name))
}

func (hm *HealthManager) CheckAll(ctx context.Context) SystemHealth {
	start := time.Now()

	hm.mu.RLock()
	checkers := make([]HealthChecker, 0, len(hm.checkers))
	for _, c := range hm.checkers {
		checkers = append(checkers, c)
	}
	hm.mu.RUnlock()

	results := make(chan ComponentHealth, len(checkers))
	var wg sync.WaitGroup
	for _, checker := range checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()
			results <- c.Check(checkCtx)
		}(checker)
	}
	wg.Wait()
	close(results)

	components := make(map[string]ComponentHealth, len(checkers))
	hm.mu.Lock()
	for r := range results {
		components[r.Name] = r
		hm.results[r.Name] = r
	}
	hm.mu.Unlock()

	status := determineSystemHealth(components)
	hm.logger.Debug("completed health check",
		logging.String("status", string(status)),
		logging.Duration("duration", time.Since(start)),
		logging.Int("components", len(components)))

	return SystemHealth{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    hm.version,
		Uptime:     time.Since(hm.startTime),
		Components: components,
		Summary:    calculateSummary(components),
	}
}

// GetCachedHealth returns the last known status without running checks.
func (hm *HealthManager) GetCachedHealth() SystemHealth {
	hm.mu.RLock()
	components := make(map[string]ComponentHealth, len(hm.results))
	for name, r := range hm.results {
		components[name] = r
	}
	hm.mu.RUnlock()

	return SystemHealth{
		Status:     determineSystemHealth(components),
		Timestamp:  time.Now(),
		Version:    hm.version,
		Uptime:     time.Since(hm.startTime),
		Components: components,
		Summary:    calculateSummary(components),
	}
}

func determineSystemHealth(components map[string]ComponentHealth) HealthStatus {
	if len(components) == 0 {
		return HealthStatusUnknown
	}
	s := calculateSummary(components)
	switch {
	case s.UnhealthyCount > 0:
		return HealthStatusUnhealthy
	case s.DegradedCount > 0:
		return HealthStatusDegraded
	case s.HealthyCount == s.TotalComponents:
		return HealthStatusHealthy
	default:
		return HealthStatusUnknown
	}
}

func calculateSummary(components map[string]ComponentHealth) HealthSummary {
	summary := HealthSummary{TotalComponents: len(components)}
	for _, c := range components {
		switch c.Status {
		case HealthStatusHealthy:
			summary.HealthyCount++
		case HealthStatusDegraded:
			summary.DegradedCount++
		case HealthStatusUnhealthy:
			summary.UnhealthyCount++
		default:
			summary.UnknownCount++
		}
	}
	return summary
}

// HTTPHealthChecker probes an upstream HTTP API. Any response below 500
// counts as reachable; 4xx (bad probe params, throttling) is degraded.
type HTTPHealthChecker struct {
	client *http.Client
	url    string
	name   string
	agent  string
}

func NewHTTPHealthChecker(url, name string, timeout time.Duration) *HTTPHealthChecker {
	return &HTTPHealthChecker{client: &http.Client{Timeout: timeout}, url: url, name: name}
}

// WithUserAgent sets the User-Agent header; Nominatim rejects anonymous probes.
func (hhc *HTTPHealthChecker) WithUserAgent(ua string) *HTTPHealthChecker {
	hhc.agent = ua
	return hhc
}

func (hhc *HTTPHealthChecker) Name() string { return hhc.name }

func (hhc *HTTPHealthChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	result := ComponentHealth{
		Name:        hhc.name,
		LastChecked: start,
		Metadata:    map[string]interface{}{"url": hhc.url},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hhc.url, nil)
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
		result.Message = "invalid probe url"
		result.Duration = time.Since(start)
		return result
	}
	if hhc.agent != "" {
		req.Header.Set("User-Agent", hhc.agent)
	}

	resp, err := hhc.client.Do(req)
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
		result.Message = "upstream unreachable"
		result.Duration = time.Since(start)
		return result
	}
	_ = resp.Body.Close()

	result.Metadata["status_code"] = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Status = HealthStatusHealthy
		result.Message = fmt.Sprintf("upstream responding (status: %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		result.Status = HealthStatusUnhealthy
		result.Message = fmt.Sprintf("upstream error (status: %d)", resp.StatusCode)
	default:
		result.Status = HealthStatusDegraded
		result.Message = fmt.Sprintf("upstream degraded (status: %d)", resp.StatusCode)
	}
	result.Duration = time.Since(start)
	return result
}

// RedisHealthChecker pings the shared cache backend.
type RedisHealthChecker struct {
	client redis.UniversalClient
	name   string
}

func NewRedisHealthChecker(client redis.UniversalClient, name string) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, name: name}
}

func (r *RedisHealthChecker) Name() string { return r.name }

func (r *RedisHealthChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	result := ComponentHealth{Name: r.name, LastChecked: start, Metadata: map[string]interface{}{}}

	if err := r.client.Ping(ctx).Err(); err != nil {
		// searches still work against the upstream, only uncached
		result.Status = HealthStatusDegraded
		result.Error = err.Error()
		result.Message = "redis ping failed"
	} else {
		result.Status = HealthStatusHealthy
		result.Message = "redis responding"
	}
	if s := r.client.PoolStats(); s != nil {
		result.Metadata["total_conns"] = s.TotalConns
		result.Metadata["idle_conns"] = s.IdleConns
		result.Metadata["timeouts"] = s.Timeouts
	}
	result.Duration = time.Since(start)
	return result
}

// BreakerHealthChecker reports a circuit breaker's state: open is
// unhealthy, half-open is degraded.
type BreakerHealthChecker struct {
	breaker *circuit.Breaker
	name    string
}

func NewBreakerHealthChecker(b *circuit.Breaker, name string) *BreakerHealthChecker {
	return &BreakerHealthChecker{breaker: b, name: name}
}

func (b *BreakerHealthChecker) Name() string { return b.name }

func (b *BreakerHealthChecker) Check(ctx context.Context) ComponentHealth {
	st := b.breaker.State()
	result := ComponentHealth{
		Name:        b.name,
		LastChecked: time.Now(),
		Metadata:    map[string]interface{}{"state": st.String()},
	}
	switch st {
	case circuit.Open:
		result.Status = HealthStatusUnhealthy
		result.Message = "circuit open, upstream calls fail fast"
	case circuit.HalfOpen:
		result.Status = HealthStatusDegraded
		result.Message = "circuit probing upstream"
	default:
		result.Status = HealthStatusHealthy
		result.Message = "circuit closed"
	}
	return result
}

// StatsHealthChecker always reports healthy and attaches the stats
// returned by fn, e.g. session and cache sizes.
type StatsHealthChecker struct {
	getStats func() map[string]interface{}
	name     string
}

func NewStatsHealthChecker(name string, getStats func() map[string]interface{}) *StatsHealthChecker {
	return &StatsHealthChecker{getStats: getStats, name: name}
}

func (s *StatsHealthChecker) Name() string { return s.name }

func (s *StatsHealthChecker) Check(ctx context.Context) ComponentHealth {
	result := ComponentHealth{Name: s.name, LastChecked: time.Now()}
	if s.getStats == nil {
		result.Status = HealthStatusUnknown
		result.Message = "no stats source"
		return result
	}
	result.Metadata = s.getStats()
	result.Status = HealthStatusHealthy
	return result
}

// HealthServer serves liveness, readiness and component endpoints.
type HealthServer struct {
	manager *HealthManager
	server  *http.Server
	logger  *logging.ComponentLogger
}

func NewHealthServer(manager *HealthManager, addr, path string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Nop()
	}
	if path == "" {
		path = "/health"
	}
	hs := &HealthServer{manager: manager, logger: logger.WithComponent("health_server")}

	mux := http.NewServeMux()
	mux.HandleFunc(path, hs.handleHealth)
	mux.HandleFunc(path+"/live", hs.handleLiveness)
	mux.HandleFunc(path+"/ready", hs.handleReadiness)
	mux.HandleFunc(path+"/components", hs.handleComponents)

	hs.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return hs
}

// Handler exposes the routes for embedding or tests.
func (hs *HealthServer) Handler() http.Handler { return hs.server.Handler }

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (hs *HealthServer) ListenAndServe() error {
	hs.logger.Info("starting health server", logging.String("addr", hs.server.Addr))
	if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (hs *HealthServer) Stop(ctx context.Context) error {
	hs.logger.Info("stopping health server")
	return hs.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := hs.manager.CheckAll(r.Context())
	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy || health.Status == HealthStatusUnknown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (hs *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(hs.manager.startTime).String(),
	})
}

func (hs *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	health := hs.manager.CheckAll(r.Context())
	ready := health.Status != HealthStatusUnhealthy
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     health.Status,
		"ready":      ready,
		"timestamp":  health.Timestamp,
		"components": len(health.Components),
	})
}

func (hs *HealthServer) handleComponents(w http.ResponseWriter, r *http.Request) {
	var health SystemHealth
	if r.URL.Query().Get("cached") == "true" {
		health = hs.manager.GetCachedHealth()
	} else {
		health = hs.manager.CheckAll(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"components": health.Components,
		"summary":    health.Summary,
		"timestamp":  health.Timestamp,
	})
}
