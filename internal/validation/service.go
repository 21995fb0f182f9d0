// Package validation resolves a free-text address to a single point and
// tells whether that point can be served.
package validation

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"delivery-geolocation/internal/geocode"
	"delivery-geolocation/internal/georef"
	"delivery-geolocation/internal/zone"
	"delivery-geolocation/pkg/cache"
	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/geography"
	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/metrics"
)

const DefaultProvince = "buenos aires"

const (
	SourceGeoref = "georef"
	SourceGoogle = "google"
)

// Result is the outcome of validating one address. Distance and
// InDeliveryZone are only filled by ValidateAndCheckZone.
type Result struct {
	Success        bool                   `json:"success"`
	Address        string                 `json:"address"`
	Nomenclature   string                 `json:"nomenclature,omitempty"`
	Coordinates    *geography.Coordinates `json:"coordinates,omitempty"`
	Distance       *float64               `json:"distance_km,omitempty"`
	InDeliveryZone bool                   `json:"in_delivery_zone"`
	Source         string                 `json:"source,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Fallback geocodes addresses Georef does not know.
type Fallback interface {
	Geocode(ctx context.Context, address, province string) ([]geocode.Candidate, error)
}

type Service struct {
	resolver        georef.AddressResolver
	zone            *zone.Checker
	fallback        Fallback
	cache           cache.Cache[Result]
	group           singleflight.Group
	defaultProvince string
	log             *logging.ComponentLogger

	mLookups   *metrics.Counter
	mNotFound  *metrics.Counter
	mFallbacks *metrics.Counter
}

type Option func(*Service)

func WithFallback(f Fallback) Option { return func(s *Service) { s.fallback = f } }

// WithCache replaces the default in-process LRU, e.g. with a Redis cache.
func WithCache(c cache.Cache[Result]) Option { return func(s *Service) { s.cache = c } }

func WithDefaultProvince(p string) Option {
	return func(s *Service) {
		if strings.TrimSpace(p) != "" {
			s.defaultProvince = p
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l.WithComponent("validation") }
}

func New(resolver georef.AddressResolver, checker *zone.Checker, opts ...Option) *Service {
	s := &Service{
		resolver:        resolver,
		zone:            checker,
		defaultProvince: DefaultProvince,
		log:             logging.Nop().WithComponent("validation"),
		mLookups:        metrics.Default.Counter("validation_lookups_total", "Address lookups sent upstream"),
		mNotFound:       metrics.Default.Counter("validation_not_found_total", "Addresses without a usable match"),
		mFallbacks:      metrics.Default.Counter("validation_fallbacks_total", "Lookups answered by the fallback geocoder"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = cache.NewLRU[Result](cache.Options{Name: "validation", MaxSize: 1000})
	}
	return s
}

// CacheKey is lowercase(trimmed address) + "|" + lowercase(province).
func CacheKey(address, province string) string {
	return strings.ToLower(strings.TrimSpace(address)) + "|" + strings.ToLower(strings.TrimSpace(province))
}

// Validate resolves address within province (default "buenos aires").
// Unknown addresses and matches without coordinates are unsuccessful
// results; only transport failures are returned as errors and those are
// never cached.
func (s *Service) Validate(ctx context.Context, address, province string) (Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Result{}, apperrors.NewValidation("validation.Validate", apperrors.MsgInvalidAddress, nil)
	}
	if strings.TrimSpace(province) == "" {
		province = s.defaultProvince
	}
	key := CacheKey(address, province)

	if r, ok := s.cache.Get(ctx, key); ok {
		return r, nil
	}

	// Lookups are shared between callers, so one caller going away must
	// not cancel the request the others are waiting on.
	ch := s.group.DoChan(key, func() (any, error) {
		if r, ok := s.cache.Get(ctx, key); ok {
			return r, nil
		}
		r, err := s.resolve(context.WithoutCancel(ctx), address, province)
		if err != nil {
			return Result{}, err
		}
		if err := s.cache.Set(context.WithoutCancel(ctx), key, r); err != nil {
			s.log.WithContext(ctx).Warn("validation cache write failed", logging.Error(err))
		}
		return r, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

func (s *Service) resolve(ctx context.Context, address, province string) (Result, error) {
	log := s.log.WithContext(ctx)
	s.mLookups.Inc(1)

	page, err := s.resolver.ResolveAddress(ctx, georef.AddressQuery{Address: address, Province: province, Max: 1})
	if err != nil {
		return Result{}, err
	}

	if len(page.Addresses) == 0 {
		if r, ok := s.tryFallback(ctx, address, province); ok {
			return r, nil
		}
		s.mNotFound.Inc(1)
		log.Debug("address not found", logging.String("address", address), logging.String("province", province))
		return Result{Address: address, Error: apperrors.MsgAddressNotFound}, nil
	}

	best := page.Addresses[0]
	p, ok := best.Location.Coordinates()
	if !ok {
		s.mNotFound.Inc(1)
		return Result{Address: address, Nomenclature: best.Nomenclature, Source: SourceGeoref, Error: apperrors.MsgNoCoordinates}, nil
	}
	return Result{
		Success:      true,
		Address:      address,
		Nomenclature: best.Nomenclature,
		Coordinates:  &p,
		Source:       SourceGeoref,
	}, nil
}

func (s *Service) tryFallback(ctx context.Context, address, province string) (Result, bool) {
	if s.fallback == nil {
		return Result{}, false
	}
	cands, err := s.fallback.Geocode(ctx, address, province)
	if err != nil {
		s.log.WithContext(ctx).Warn("fallback geocoder failed", logging.String("address", address), logging.Error(err))
		return Result{}, false
	}
	if len(cands) == 0 {
		return Result{}, false
	}
	s.mFallbacks.Inc(1)
	p := cands[0].Coordinates
	return Result{
		Success:      true,
		Address:      address,
		Nomenclature: cands[0].FormattedAddress,
		Coordinates:  &p,
		Source:       SourceGoogle,
	}, true
}

// ValidateAndCheckZone validates with the default province and, when a
// point was found, attaches its distance from the zone center and whether
// it is deliverable. Results without coordinates are never in zone.
func (s *Service) ValidateAndCheckZone(ctx context.Context, address string) (Result, error) {
	r, err := s.Validate(ctx, address, "")
	if err != nil {
		return r, err
	}
	r.InDeliveryZone = false
	r.Distance = nil
	if !r.Success || r.Coordinates == nil || s.zone == nil {
		return r, nil
	}
	c := s.zone.Check(address, *r.Coordinates)
	d := c.DistanceKm
	r.Distance = &d
	r.InDeliveryZone = c.InZone
	return r, nil
}

// Purge empties the validation cache.
func (s *Service) Purge(ctx context.Context) error {
	return s.cache.Purge(ctx)
}

// Zone is the checker used by ValidateAndCheckZone.
func (s *Service) Zone() *zone.Checker { return s.zone }
