package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            string
	AdminPort       string // metrics + pprof
	HealthCheckPort string
	HealthCheckPath string
	Env             string // development, staging, production

	// Logging
	LogLevel          string
	LogFormat         string // "json" or "text"
	LogFile           string
	EnableFileLogging bool

	// Georef street directory
	GeorefBaseURL    string
	GeorefProvince   string // /calles scope
	GeorefDepartment string // /calles scope, empty = whole province
	GeorefTimeout    time.Duration
	GeorefRPS        float64
	GeorefBurst      int
	DefaultProvince  string // /direcciones default

	// Search and caching
	SearchLimit int
	CacheSize   int
	CacheTTL    time.Duration
	RedisURL    string // empty = in-process caches only
	SessionTTL  time.Duration

	// Optional fallback geocoder
	GoogleMapsAPIKey string

	// Reverse geocoding
	NominatimURL       string
	NominatimUserAgent string

	// Delivery zone definition; empty = embedded default
	ZoneFile string

	MetricsEnabled   bool
	MetricsPath      string
	ProfilingEnabled bool

	ConfigReloadIntervalSeconds int
}

func Load() *Config {
	env := strings.ToLower(getEnv("ENV", "development"))
	devLike := env == "development" || env == "staging"

	enableFileLogging, _ := strconv.ParseBool(getEnv("ENABLE_FILE_LOGGING", "false"))
	metricsEnabled, _ := strconv.ParseBool(getEnv("METRICS_ENABLED", "true"))
	profilingEnabled, _ := strconv.ParseBool(getEnv("PROFILING_ENABLED", strconv.FormatBool(devLike)))

	georefTimeout := getDuration("GEOREF_TIMEOUT", 10*time.Second)
	georefRPS, _ := strconv.ParseFloat(getEnv("GEOREF_RPS", "5"), 64)
	georefBurst, _ := strconv.Atoi(getEnv("GEOREF_BURST", "5"))

	searchLimit, _ := strconv.Atoi(getEnv("SEARCH_LIMIT", "10"))
	cacheSize, _ := strconv.Atoi(getEnv("CACHE_SIZE", "1000"))
	reloadIntSec, _ := strconv.Atoi(getEnv("CONFIG_RELOAD_INTERVAL_SECONDS", "5"))

	return &Config{
		Port:            getEnv("PORT", "8080"),
		AdminPort:       getEnv("ADMIN_PORT", "6060"),
		HealthCheckPort: getEnv("HEALTH_CHECK_PORT", "8081"),
		HealthCheckPath: getEnv("HEALTH_CHECK_PATH", "/health"),
		Env:             env,

		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		LogFile:           getEnv("LOG_FILE", "/var/log/delivery-geolocation/app.log"),
		EnableFileLogging: enableFileLogging,

		GeorefBaseURL:    getEnv("GEOREF_BASE_URL", "https://apis.datos.gob.ar/georef/api"),
		GeorefProvince:   getEnv("GEOREF_PROVINCE", "02"),
		GeorefDepartment: getEnv("GEOREF_DEPARTMENT", ""),
		GeorefTimeout:    georefTimeout,
		GeorefRPS:        georefRPS,
		GeorefBurst:      georefBurst,
		DefaultProvince:  getEnv("DEFAULT_PROVINCE", "buenos aires"),

		SearchLimit: searchLimit,
		CacheSize:   cacheSize,
		CacheTTL:    getDuration("CACHE_TTL", time.Hour),
		RedisURL:    getEnv("REDIS_URL", ""),
		SessionTTL:  getDuration("SESSION_TTL", 30*time.Minute),

		GoogleMapsAPIKey: getEnv("GOOGLE_MAPS_API_KEY", ""),

		NominatimURL:       getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent: getEnv("NOMINATIM_USER_AGENT", "delivery-geolocation/1.0"),

		ZoneFile: getEnv("ZONE_FILE", ""),

		MetricsEnabled:   metricsEnabled,
		MetricsPath:      getEnv("METRICS_PATH", "/metrics"),
		ProfilingEnabled: profilingEnabled,

		ConfigReloadIntervalSeconds: reloadIntSec,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
// Unparseable values become -1 so Validate reports them.
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return -1
}
