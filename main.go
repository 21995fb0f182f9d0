package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"delivery-geolocation/internal/api"
	"delivery-geolocation/internal/geocode"
	"delivery-geolocation/internal/georef"
	"delivery-geolocation/internal/location"
	"delivery-geolocation/internal/search"
	"delivery-geolocation/internal/selection"
	"delivery-geolocation/internal/validation"
	"delivery-geolocation/internal/zone"
	"delivery-geolocation/pkg/cache"
	"delivery-geolocation/pkg/circuit"
	"delivery-geolocation/pkg/config"
	"delivery-geolocation/pkg/container"
	"delivery-geolocation/pkg/health"
	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/monitoring"
)

const (
	version         = "1.0.0"
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// backends holds the optional shared redis connection. A nil client means
// every cache stays in process.
type backends struct {
	redis *redis.Client
}

func (b *backends) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Close()
}

func cacheFor[V any](b *backends, cfg *config.Config, name string, log *logging.Logger) cache.Cache[V] {
	opts := cache.Options{Name: name, MaxSize: cfg.CacheSize, TTL: cfg.CacheTTL}
	if b.redis != nil {
		return cache.NewRedis[V](b.redis, opts, log)
	}
	return cache.NewLRU[V](opts)
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.DefaultLogConfig()
	lc.Level = logging.ParseLevel(cfg.LogLevel)
	lc.Format = cfg.LogFormat
	if cfg.EnableFileLogging {
		lc.EnableFile = true
		lc.FilePath = cfg.LogFile
		lc.Output = cfg.LogFile
	}
	return logging.NewLogger(lc)
}

func provide(c *container.Container) error {
	providers := []interface{}{
		func(cfg *config.Config, log *logging.Logger) (*backends, error) {
			if cfg.RedisURL == "" {
				return &backends{}, nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			log.Info("redis caches enabled")
			return &backends{redis: client}, nil
		},
		func(cfg *config.Config, b *backends, log *logging.Logger) *georef.Client {
			bc := circuit.DefaultConfig("georef")
			bc.IsFailure = georef.UpstreamFailure
			return georef.New(georef.Config{
				BaseURL:           cfg.GeorefBaseURL,
				Province:          cfg.GeorefProvince,
				Department:        cfg.GeorefDepartment,
				Timeout:           cfg.GeorefTimeout,
				RequestsPerSecond: cfg.GeorefRPS,
				Burst:             cfg.GeorefBurst,
			},
				georef.WithHTTPClient(&http.Client{
					Timeout: cfg.GeorefTimeout,
					Transport: &http.Transport{
						Proxy:               http.ProxyFromEnvironment,
						MaxIdleConnsPerHost: 16,
						IdleConnTimeout:     90 * time.Second,
					},
				}),
				georef.WithLogger(log),
				georef.WithBreaker(circuit.New(bc, log)),
				georef.WithStreetCache(cacheFor[georef.StreetPage](b, cfg, "streets", log)),
			)
		},
		func(g *georef.Client, log *logging.Logger) *search.Engine { return search.NewEngine(g, log) },
		func(e *search.Engine, cfg *config.Config) *search.Sessions { return search.NewSessions(e, cfg.SessionTTL) },
		func(cfg *config.Config) (*zone.Checker, error) {
			zc, err := zone.Load(cfg.ZoneFile)
			if err != nil {
				return nil, err
			}
			return zone.NewChecker(zc)
		},
		func(cfg *config.Config, g *georef.Client, z *zone.Checker, b *backends, log *logging.Logger) (*validation.Service, error) {
			opts := []validation.Option{
				validation.WithCache(cacheFor[validation.Result](b, cfg, "addresses", log)),
				validation.WithDefaultProvince(cfg.DefaultProvince),
				validation.WithLogger(log),
			}
			if cfg.GoogleMapsAPIKey != "" {
				gg, err := geocode.NewGoogleGeocoder(cfg.GoogleMapsAPIKey)
				if err != nil {
					return nil, err
				}
				opts = append(opts, validation.WithFallback(gg))
			}
			return validation.New(g, z, opts...), nil
		},
		func(svc *validation.Service, cfg *config.Config, log *logging.Logger) *selection.Store {
			sl := log.WithComponent("selection")
			return selection.NewStore(func() *selection.Flow {
				return selection.NewFlow(svc,
					selection.WithLogger(log),
					selection.OnAddressSelected(func(s selection.Selection) {
						sl.Info("address selected",
							logging.String("address", s.Address),
							logging.Bool("in_zone", s.Result.InDeliveryZone))
					}))
			}, cfg.SessionTTL)
		},
		func(cfg *config.Config, log *logging.Logger) *location.Service {
			return location.NewService(location.Config{BaseURL: cfg.NominatimURL, UserAgent: cfg.NominatimUserAgent}, log)
		},
		func(cfg *config.Config, e *search.Engine, ss *search.Sessions, g *georef.Client, v *validation.Service, st *selection.Store, loc *location.Service, log *logging.Logger) *api.Handler {
			return api.New(api.Deps{
				Engine:     e,
				Sessions:   ss,
				Streets:    g,
				Validation: v,
				Selections: st,
				Location:   loc,
			}, cfg.SearchLimit, log)
		},
		func(cfg *config.Config, g *georef.Client, loc *location.Service, b *backends, ss *search.Sessions, st *selection.Store, log *logging.Logger) *health.HealthManager {
			hm := health.NewHealthManager(health.HealthConfig{Timeout: 5 * time.Second, Version: version}, log)
			hm.RegisterChecker(health.NewHTTPHealthChecker(g.BaseURL()+"/provincias?max=1", "georef", 5*time.Second))
			ua := cfg.NominatimUserAgent
			if ua == "" {
				ua = location.DefaultUserAgent
			}
			hm.RegisterChecker(health.NewHTTPHealthChecker(loc.BaseURL()+"/status", "nominatim", 5*time.Second).WithUserAgent(ua))
			if b.redis != nil {
				hm.RegisterChecker(health.NewRedisHealthChecker(b.redis, "redis"))
			}
			if br := g.Breaker(); br != nil {
				hm.RegisterChecker(health.NewBreakerHealthChecker(br, "georef_breaker"))
			}
			hm.RegisterChecker(health.NewStatsHealthChecker("sessions", func() map[string]interface{} {
				return map[string]interface{}{
					"search_sessions":    ss.Len(),
					"selection_sessions": st.Count(),
				}
			}))
			return hm
		},
	}
	for _, p := range providers {
		if err := c.Provide(p, true); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := run(cfg, log); err != nil {
		log.Error("shutting down with error", err)
		_ = log.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	log.Info("starting delivery geolocation service", logging.Any("config", cfg.GetConfigSummary()))
	monitoring.EnableProfiling(cfg.ProfilingEnabled)

	c := container.New()
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("closing dependencies", err)
		}
	}()
	if err := c.Supply(cfg); err != nil {
		return err
	}
	if err := c.Supply(log); err != nil {
		return err
	}
	if err := provide(c); err != nil {
		return err
	}

	var (
		h        *api.Handler
		hm       *health.HealthManager
		checker  *zone.Checker
		sessions *selection.Store
	)
	if err := c.Invoke(func(a *api.Handler, m *health.HealthManager, z *zone.Checker, st *selection.Store) {
		h, hm, checker, sessions = a, m, z, st
	}); err != nil {
		return fmt.Errorf("wiring: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reqMetrics := monitoring.NewMetrics(512)
	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Router(reqMetrics, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	healthServer := health.NewHealthServer(hm, ":"+cfg.HealthCheckPort, cfg.HealthCheckPath, log)
	var adminServer *http.Server
	if cfg.MetricsEnabled || cfg.ProfilingEnabled {
		adminServer = &http.Server{
			Addr:              ":" + cfg.AdminPort,
			Handler:           monitoring.AdminMux(reqMetrics, cfg.MetricsPath, cfg.ProfilingEnabled),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	cw := config.NewWatcher(time.Duration(cfg.ConfigReloadIntervalSeconds) * time.Second)
	changes := cw.Subscribe()
	cw.Start()
	defer cw.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("api server listening", logging.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(healthServer.ListenAndServe)
	if adminServer != nil {
		g.Go(func() error {
			log.Info("admin server listening", logging.String("addr", adminServer.Addr))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if n := sessions.Sweep(); n > 0 {
					log.Debug("swept idle selection sessions", logging.Int("removed", n))
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case chg, ok := <-changes:
				if !ok {
					return nil
				}
				applyChange(chg, log, h, checker)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := errors.Join(apiServer.Shutdown(sctx), healthServer.Stop(sctx))
		if adminServer != nil {
			err = errors.Join(err, adminServer.Shutdown(sctx))
		}
		return err
	})

	return g.Wait()
}

// applyChange pushes a reloaded config into the running services. Ports,
// upstream URLs and cache backends need a restart.
func applyChange(chg config.Change, log *logging.Logger, h *api.Handler, checker *zone.Checker) {
	if chg.Err != nil {
		log.Warn("config reload rejected", logging.Error(chg.Err))
		return
	}
	if chg.Has("LogLevel") {
		log.SetLevel(logging.ParseLevel(chg.New.LogLevel))
	}
	if chg.Has("SearchLimit") {
		h.SetDefaultLimit(chg.New.SearchLimit)
	}
	if chg.Has("Profiling") {
		monitoring.EnableProfiling(chg.New.ProfilingEnabled)
	}
	if chg.Has("Zone") {
		zc, err := zone.Load(chg.New.ZoneFile)
		if err == nil {
			err = checker.SetConfig(zc)
		}
		if err != nil {
			log.Warn("zone reload failed, keeping previous zone", logging.Error(err))
		}
	}
	for _, f := range []string{"LogFormat", "EnableFileLogging", "DefaultProvince", "GeorefRate", "Metrics"} {
		if chg.Has(f) {
			log.Warn("config field changed, restart to apply", logging.String("field", f))
		}
	}
	log.Info("config applied", logging.Any("fields", chg.Fields))
}
