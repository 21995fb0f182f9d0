// Package location turns the browser's current position into a readable
// place label using OpenStreetMap Nominatim.
package location

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/geography"
	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/metrics"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "delivery-geolocation/1.0"
	system           = "nominatim"
	maxBody          = 1 << 20
)

// Browser Geolocation API error codes.
const (
	PermissionDenied    = 1
	PositionUnavailable = 2
	Timeout             = 3
)

// PositionErrorMessage maps a geolocation error code to the message shown
// to the user.
func PositionErrorMessage(code int) string {
	switch code {
	case PermissionDenied:
		return "Permiso de ubicación denegado"
	case PositionUnavailable:
		return "La información de ubicación no está disponible"
	case Timeout:
		return "Se agotó el tiempo de espera para obtener la ubicación"
	default:
		return "Error desconocido al obtener la ubicación"
	}
}

// PositionOptions mirrors the options clients pass to getCurrentPosition.
type PositionOptions struct {
	EnableHighAccuracy bool `json:"enableHighAccuracy"`
	TimeoutMs          int  `json:"timeout"`
	MaximumAgeMs       int  `json:"maximumAge"`
}

func DefaultPositionOptions() PositionOptions {
	return PositionOptions{
		EnableHighAccuracy: true,
		TimeoutMs:          int((10 * time.Second).Milliseconds()),
		MaximumAgeMs:       int((5 * time.Minute).Milliseconds()),
	}
}

// Place is a reverse-geocoded position.
type Place struct {
	Coordinates geography.Coordinates `json:"coordinates"`
	City        string                `json:"city,omitempty"`
	State       string                `json:"state,omitempty"`
	Country     string                `json:"country,omitempty"`
	DisplayName string                `json:"display_name,omitempty"`
	Label       string                `json:"label"`
}

type Config struct {
	BaseURL   string
	UserAgent string // Nominatim rejects requests without one
	Timeout   time.Duration
}

type Service struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *logging.ComponentLogger

	mRequests *metrics.Counter
	mLatency  *metrics.Histogram
}

func NewService(cfg Config, log *logging.Logger) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		// usage policy: at most one request per second
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		log:       log.WithComponent("location"),
		mRequests: metrics.Default.Counter("nominatim_requests_total", "Reverse geocoding requests"),
		mLatency:  metrics.Default.Histogram("nominatim_latency_ms", "Nominatim latency (ms)", metrics.LatencyBucketsMs),
	}
}

// BaseURL is the configured API root.
func (s *Service) BaseURL() string { return s.cfg.BaseURL }

// Reverse resolves lat/lon to a "city, state, country" label.
func (s *Service) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	const op = "location.Reverse"
	p := geography.Coordinates{Lat: lat, Lon: lon}
	if !p.Valid() {
		return nil, apperrors.NewValidation(op, "coordinates out of range", nil)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewExternal(op, system, "throttled request cancelled", err)
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("zoom", "10")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return nil, apperrors.NewExternal(op, system, "build request", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept-Language", "es")

	s.mRequests.Inc(1)
	start := time.Now()
	resp, err := s.http.Do(req)
	s.mLatency.Since(start)
	if err != nil {
		s.log.WithContext(ctx).Warn("nominatim request failed", logging.Error(err))
		return nil, apperrors.NewExternal(op, system, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		s.log.WithContext(ctx).Warn("nominatim upstream error", logging.Int("status", resp.StatusCode))
		return nil, apperrors.NewHTTPStatus(op, system, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, apperrors.NewExternal(op, system, "read response", err)
	}
	return parseReverse(p, body)
}

func parseReverse(p geography.Coordinates, body []byte) (*Place, error) {
	const op = "location.parseReverse"
	if !gjson.ValidBytes(body) {
		return nil, apperrors.NewExternal(op, system, "malformed response", fmt.Errorf("invalid json"))
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return nil, apperrors.NewBiz(op, "ubicación no encontrada", fmt.Errorf("nominatim: %s", e.String()))
	}

	addr := gjson.GetBytes(body, "address")
	place := &Place{
		Coordinates: p,
		City:        firstNonEmpty(addr, "city", "town", "village", "municipality"),
		State:       addr.Get("state").String(),
		Country:     addr.Get("country").String(),
		DisplayName: gjson.GetBytes(body, "display_name").String(),
	}

	var parts []string
	for _, v := range []string{place.City, place.State, place.Country} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	place.Label = strings.Join(parts, ", ")
	if place.Label == "" {
		place.Label = place.DisplayName
	}
	return place, nil
}

func firstNonEmpty(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := obj.Get(k).String(); v != "" {
			return v
		}
	}
	return ""
}
