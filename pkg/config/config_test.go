package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "production")
	cfg := Load()

	if cfg.Port != "8080" || cfg.SearchLimit != 10 || cfg.CacheSize != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DefaultProvince != "buenos aires" || cfg.GeorefProvince != "02" {
		t.Fatalf("unexpected georef defaults: %+v", cfg)
	}
	if cfg.CacheTTL != time.Hour || cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected durations: ttl=%s session=%s", cfg.CacheTTL, cfg.SessionTTL)
	}
	if cfg.ProfilingEnabled {
		t.Fatalf("profiling should default off in production")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestGetDuration(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"90s", 90 * time.Second},
		{"120", 2 * time.Minute},
		{"soon", -1},
	}
	for _, tt := range tests {
		t.Setenv("SOME_TTL", tt.val)
		if got := getDuration("SOME_TTL", 5*time.Second); got != tt.want {
			t.Errorf("getDuration(%q) = %s, want %s", tt.val, got, tt.want)
		}
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Load()
	cfg.Port = "99999"
	cfg.AdminPort = cfg.HealthCheckPort
	cfg.GeorefBaseURL = "ftp://georef"
	cfg.SearchLimit = 0
	cfg.CacheTTL = -1
	cfg.RedisURL = "http://localhost:6379"
	cfg.ZoneFile = filepath.Join(t.TempDir(), "missing.yaml")

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, field := range []string{"PORT", "HEALTH_CHECK_PORT", "GEOREF_BASE_URL", "SEARCH_LIMIT", "CACHE_TTL", "REDIS_URL", "ZONE_FILE"} {
		if !strings.Contains(err.Error(), "'"+field+"'") {
			t.Errorf("missing %s in %v", field, err)
		}
	}
}

func TestGetConfigSummary_MasksSecrets(t *testing.T) {
	cfg := Load()
	cfg.GoogleMapsAPIKey = "AIzaSyExampleKey"
	cfg.RedisURL = "redis://:secret@cache:6379/0"

	sum := cfg.GetConfigSummary()
	if got := sum["google_maps_api_key"]; got != "AIzaSy**********" {
		t.Fatalf("api key not masked: %v", got)
	}
	if got := sum["redis_url"].(string); strings.Contains(got, "secret") {
		t.Fatalf("redis password leaked: %v", got)
	}
	if maskString("abc", 6) != "***" || maskString("", 6) != "" {
		t.Fatalf("unexpected short-string masking")
	}
}

func TestDiffKeys(t *testing.T) {
	a := Load()
	b := *a
	b.LogLevel = "debug"
	b.GeorefRPS = a.GeorefRPS + 1
	b.Port = "9999"

	got := diffKeys(a, &b)
	if strings.Join(got, ",") != "LogLevel,GeorefRate" {
		t.Fatalf("diffKeys = %v", got)
	}
	if got := diffKeys(nil, a); len(got) != 1 || got[0] != "all" {
		t.Fatalf("nil diff = %v", got)
	}
}

func TestWatcher_ReloadsEnvFileAndZone(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "app.env")
	zonePath := filepath.Join(dir, "zone.yaml")
	writeFile(t, envPath, "LOG_LEVEL=info\n")
	writeFile(t, zonePath, "center: {lat: 0, lon: 0}\nradius_km: 5\n")

	t.Setenv("CONFIG_FILE", envPath)
	t.Setenv("ZONE_FILE", zonePath)
	t.Setenv("LOG_LEVEL", "info")

	w := NewWatcher(time.Hour)
	defer w.Close()
	ch := w.Subscribe()

	w.checkOnce()
	select {
	case chg := <-ch:
		t.Fatalf("unexpected change without edits: %+v", chg)
	default:
	}

	later := time.Now().Add(time.Minute)
	writeFile(t, envPath, "LOG_LEVEL=debug\n")
	if err := os.Chtimes(envPath, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(zonePath, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	w.checkOnce()
	chg := <-ch
	if chg.Err != nil {
		t.Fatalf("unexpected error: %v", chg.Err)
	}
	if !chg.Has("LogLevel") || !chg.Has("Zone") {
		t.Fatalf("expected LogLevel and Zone, got %v", chg.Fields)
	}
	if w.Current().LogLevel != "debug" || chg.Old.LogLevel != "info" {
		t.Fatalf("old=%s new=%s", chg.Old.LogLevel, w.Current().LogLevel)
	}
}

func TestWatcher_InvalidReloadKeepsCurrent(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SEARCH_LIMIT", "10")
	w := NewWatcher(time.Hour)
	defer w.Close()
	ch := w.Subscribe()

	t.Setenv("SEARCH_LIMIT", "0")
	w.checkOnce()
	chg := <-ch
	if chg.Err == nil {
		t.Fatalf("expected error change")
	}
	if w.Current().SearchLimit != 10 {
		t.Fatalf("invalid config must not be applied")
	}
}

func TestWatcher_CloseClosesSubscribers(t *testing.T) {
	w := NewWatcher(time.Hour)
	ch := w.Subscribe()
	w.Close()
	w.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if _, ok := <-w.Subscribe(); ok {
		t.Fatalf("subscribe after close should return a closed channel")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
