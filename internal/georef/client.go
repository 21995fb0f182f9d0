// Package georef is a client for Argentina's public Georef address API
// (/calles and /direcciones).
package georef

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"delivery-geolocation/pkg/cache"
	"delivery-geolocation/pkg/circuit"
	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/metrics"
)

const (
	DefaultBaseURL = "https://apis.datos.gob.ar/georef/api"
	system         = "georef"
)

type Config struct {
	BaseURL           string
	Province          string // fixed /calles scope
	Department        string // fixed /calles scope, empty = whole province
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 = unthrottled
	Burst             int
	UserAgent         string
}

// StreetSource is the /calles surface the search engine depends on.
type StreetSource interface {
	SearchStreets(ctx context.Context, q StreetQuery) (*StreetPage, error)
}

// AddressResolver is the /direcciones surface validation depends on.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, q AddressQuery) (*AddressPage, error)
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker
	streets cache.Cache[StreetPage]
	log     *logging.ComponentLogger

	mRequests *metrics.Counter
	mErrors   *metrics.Counter
	mLatency  *metrics.Histogram
}

type Option func(*Client)

// WithHTTPClient replaces the default client; its Timeout wins over Config.Timeout.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l.WithComponent("georef") }
}

func WithBreaker(b *circuit.Breaker) Option { return func(c *Client) { c.breaker = b } }

// WithStreetCache caches /calles pages by their full query string.
func WithStreetCache(sc cache.Cache[StreetPage]) Option { return func(c *Client) { c.streets = sc } }

func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       logging.Nop().WithComponent("georef"),
		mRequests: metrics.Default.Counter("georef_requests_total", "Requests sent to Georef"),
		mErrors:   metrics.Default.Counter("georef_errors_total", "Failed Georef requests"),
		mLatency:  metrics.Default.Histogram("georef_latency_ms", "Georef request latency (ms)", metrics.LatencyBucketsMs),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Breaker exposes the client's breaker for health reporting; may be nil.
func (c *Client) Breaker() *circuit.Breaker { return c.breaker }

// BaseURL is the configured API root.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// SearchStreets queries /calles within the configured province/department.
func (c *Client) SearchStreets(ctx context.Context, q StreetQuery) (*StreetPage, error) {
	const op = "georef.SearchStreets"

	params := url.Values{}
	params.Set("nombre", q.Name)
	if c.cfg.Province != "" {
		params.Set("provincia", c.cfg.Province)
	}
	if c.cfg.Department != "" {
		params.Set("departamento", c.cfg.Department)
	}
	if q.Category != "" {
		params.Set("categoria", q.Category)
	}
	if q.Max > 0 {
		params.Set("max", strconv.Itoa(q.Max))
	}
	if q.Start > 0 {
		params.Set("inicio", strconv.Itoa(q.Start))
	}
	key := params.Encode()

	if c.streets != nil {
		if page, ok := c.streets.Get(ctx, key); ok {
			return &page, nil
		}
	}

	var page StreetPage
	if err := c.get(ctx, op, "/calles", params, &page); err != nil {
		return nil, err
	}
	if c.streets != nil {
		if err := c.streets.Set(ctx, key, page); err != nil {
			c.log.WithContext(ctx).Warn("street cache write failed", logging.Error(err))
		}
	}
	return &page, nil
}

// ResolveAddress queries /direcciones. Results are never cached here;
// validation owns that cache.
func (c *Client) ResolveAddress(ctx context.Context, q AddressQuery) (*AddressPage, error) {
	const op = "georef.ResolveAddress"

	params := url.Values{}
	params.Set("direccion", q.Address)
	if q.Province != "" {
		params.Set("provincia", q.Province)
	}
	if q.Max > 0 {
		params.Set("max", strconv.Itoa(q.Max))
	}

	var page AddressPage
	if err := c.get(ctx, op, "/direcciones", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewExternal(op, system, "throttled request cancelled", err)
		}
	}

	call := func(ctx context.Context) error { return c.do(ctx, op, path, params, out) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Do(ctx, call)
		if apperrors.Is(err, circuit.ErrOpen) {
			err = apperrors.NewExternal(op, system, "georef temporarily unavailable", err)
		}
	} else {
		err = call(ctx)
	}
	if err != nil {
		c.mErrors.Inc(1)
	}
	return err
}

func (c *Client) do(ctx context.Context, op, path string, params url.Values, out any) error {
	reqURL := c.cfg.BaseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return apperrors.NewExternal(op, system, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	c.mRequests.Inc(1)
	start := time.Now()
	resp, err := c.http.Do(req)
	c.mLatency.Since(start)
	if err != nil {
		c.log.WithContext(ctx).Warn("georef request failed", logging.String("path", path), logging.Error(err))
		return apperrors.NewExternal(op, system, "request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.WithContext(ctx).Warn("georef upstream error",
			logging.String("path", path),
			logging.Int("status", resp.StatusCode))
		return apperrors.NewHTTPStatus(op, system, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewExternal(op, system, "malformed response", fmt.Errorf("decode %s: %w", path, err))
	}
	c.log.WithContext(ctx).Debug("georef request", logging.String("path", path), logging.Duration("took", time.Since(start)))
	return nil
}

// UpstreamFailure is the breaker failure predicate for Georef: only
// connectivity problems and 5xx count against the upstream.
func UpstreamFailure(err error) bool {
	code := apperrors.StatusCode(err)
	return code == 0 || code >= 500
}
