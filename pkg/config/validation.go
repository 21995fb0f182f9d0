package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	errs "delivery-geolocation/pkg/errors"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error for field '%s' with value '%s': %s", e.Field, e.Value, e.Message)
}

// ConfigValidator accumulates field errors so every problem is reported at once.
type ConfigValidator struct {
	errors []ValidationError
}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{errors: make([]ValidationError, 0)}
}

func (cv *ConfigValidator) AddError(field, value, message string) {
	cv.errors = append(cv.errors, ValidationError{Field: field, Value: value, Message: message})
}

func (cv *ConfigValidator) HasErrors() bool { return len(cv.errors) > 0 }

func (cv *ConfigValidator) GetErrors() []ValidationError { return cv.errors }

func (cv *ConfigValidator) GetErrorsAsString() string {
	var out []string
	for _, err := range cv.errors {
		out = append(out, err.Error())
	}
	return strings.Join(out, "\n")
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	v := NewConfigValidator()

	c.validateFormats(v)
	c.validateRanges(v)
	c.validateEnvironment(v)

	if v.HasErrors() {
		return errs.NewValidation("config.Validate", fmt.Sprintf("configuration validation failed:\n%s", v.GetErrorsAsString()), nil)
	}
	return nil
}

func validPort(p string) bool {
	n, err := strconv.Atoi(p)
	return err == nil && n >= 1 && n <= 65535
}

func validHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (c *Config) validateFormats(v *ConfigValidator) {
	for name, port := range map[string]string{
		"PORT":              c.Port,
		"ADMIN_PORT":        c.AdminPort,
		"HEALTH_CHECK_PORT": c.HealthCheckPort,
	} {
		if !validPort(port) {
			v.AddError(name, port, "invalid port number (must be 1-65535)")
		}
	}

	validLogLevels := []string{"trace", "debug", "info", "warn", "error", "fatal"}
	if c.LogLevel != "" && !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		v.AddError("LOG_LEVEL", c.LogLevel, "invalid log level (must be one of: trace, debug, info, warn, error, fatal)")
	}
	if c.LogFormat != "" && c.LogFormat != "json" && c.LogFormat != "text" {
		v.AddError("LOG_FORMAT", c.LogFormat, "invalid log format (must be 'json' or 'text')")
	}

	if !validHTTPURL(c.GeorefBaseURL) {
		v.AddError("GEOREF_BASE_URL", c.GeorefBaseURL, "must be an http(s) URL")
	}
	if !validHTTPURL(c.NominatimURL) {
		v.AddError("NOMINATIM_URL", c.NominatimURL, "must be an http(s) URL")
	}
	if strings.TrimSpace(c.NominatimUserAgent) == "" {
		v.AddError("NOMINATIM_USER_AGENT", c.NominatimUserAgent, "nominatim requires an identifying user agent")
	}
	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			v.AddError("REDIS_URL", maskString(c.RedisURL, 8), "must be a redis:// or rediss:// URL")
		}
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		v.AddError("METRICS_PATH", c.MetricsPath, "must start with /")
	}
}

func (c *Config) validateRanges(v *ConfigValidator) {
	if c.GeorefTimeout <= 0 {
		v.AddError("GEOREF_TIMEOUT", c.GeorefTimeout.String(), "must be a positive duration")
	}
	if c.GeorefRPS < 0 {
		v.AddError("GEOREF_RPS", strconv.FormatFloat(c.GeorefRPS, 'f', -1, 64), "must not be negative (0 disables throttling)")
	}
	if c.GeorefBurst < 0 {
		v.AddError("GEOREF_BURST", strconv.Itoa(c.GeorefBurst), "must not be negative")
	}
	if c.SearchLimit < 1 || c.SearchLimit > 100 {
		v.AddError("SEARCH_LIMIT", strconv.Itoa(c.SearchLimit), "must be between 1 and 100")
	}
	if c.CacheSize < 1 || c.CacheSize > 1_000_000 {
		v.AddError("CACHE_SIZE", strconv.Itoa(c.CacheSize), "must be between 1 and 1000000")
	}
	if c.CacheTTL < 0 {
		v.AddError("CACHE_TTL", c.CacheTTL.String(), "must be a duration, 0 disables expiry")
	}
	if c.SessionTTL <= 0 {
		v.AddError("SESSION_TTL", c.SessionTTL.String(), "must be a positive duration")
	}
	if c.ConfigReloadIntervalSeconds < 0 {
		v.AddError("CONFIG_RELOAD_INTERVAL_SECONDS", strconv.Itoa(c.ConfigReloadIntervalSeconds), "must not be negative (0 disables reload)")
	}
}

func (c *Config) validateEnvironment(v *ConfigValidator) {
	if c.EnableFileLogging && c.LogFile != "" {
		if err := checkDirectoryWritable(c.LogFile); err != nil {
			v.AddError("LOG_FILE", c.LogFile, fmt.Sprintf("log directory is not writable: %v", err))
		}
	}
	if c.ZoneFile != "" {
		if _, err := os.Stat(c.ZoneFile); err != nil {
			v.AddError("ZONE_FILE", c.ZoneFile, fmt.Sprintf("zone file not readable: %v", err))
		}
	}

	used := make(map[string]string)
	for _, p := range []struct{ name, port string }{
		{"PORT", c.Port}, {"ADMIN_PORT", c.AdminPort}, {"HEALTH_CHECK_PORT", c.HealthCheckPort},
	} {
		if p.port == "" || p.port == "0" {
			continue
		}
		if existing, ok := used[p.port]; ok {
			v.AddError(p.name, p.port, fmt.Sprintf("port conflict with %s", existing))
			continue
		}
		used[p.port] = p.name
	}
}

func checkDirectoryWritable(filePath string) error {
	dir := filepath.Dir(filePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.NewValidation("config.checkDirectoryWritable", "cannot create directory", err)
		}
	}
	f, err := os.CreateTemp(dir, ".write_test_*")
	if err != nil {
		return errs.NewValidation("config.checkDirectoryWritable", "directory is not writable", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetConfigSummary returns the configuration with secrets masked.
func (c *Config) GetConfigSummary() map[string]interface{} {
	return map[string]interface{}{
		"env":                 c.Env,
		"port":                c.Port,
		"admin_port":          c.AdminPort,
		"health_check_port":   c.HealthCheckPort,
		"log_level":           c.LogLevel,
		"log_format":          c.LogFormat,
		"enable_file_logging": c.EnableFileLogging,
		"georef_base_url":     c.GeorefBaseURL,
		"georef_province":     c.GeorefProvince,
		"georef_department":   c.GeorefDepartment,
		"georef_rps":          c.GeorefRPS,
		"default_province":    c.DefaultProvince,
		"search_limit":        c.SearchLimit,
		"cache_size":          c.CacheSize,
		"cache_ttl":           c.CacheTTL.String(),
		"redis_url":           maskString(c.RedisURL, 8),
		"google_maps_api_key": maskString(c.GoogleMapsAPIKey, 6),
		"nominatim_url":       c.NominatimURL,
		"zone_file":           c.ZoneFile,
		"metrics_enabled":     c.MetricsEnabled,
		"profiling_enabled":   c.ProfilingEnabled,
	}
}

func maskString(s string, keepFirst int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepFirst {
		return strings.Repeat("*", len(s))
	}
	return s[:keepFirst] + strings.Repeat("*", len(s)-keepFirst)
}
