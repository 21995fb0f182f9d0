package validation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"delivery-geolocation/internal/geocode"
	"delivery-geolocation/internal/georef"
	testutil "delivery-geolocation/internal/testing"
	"delivery-geolocation/internal/zone"
	"delivery-geolocation/pkg/cache"
	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/geography"
)

var obelisco = geography.Coordinates{Lat: -34.6037, Lon: -58.3816}

func newService(t *testing.T, fake *testutil.FakeGeoref, radiusKm float64, opts ...Option) *Service {
	t.Helper()
	z, err := zone.NewChecker(zone.Radius(obelisco, radiusKm))
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	return New(georef.New(georef.Config{BaseURL: fake.URL()}), z, opts...)
}

func TestValidate_Outcomes(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Corrientes 1234", "AV CORRIENTES 1234, CABA", testutil.Float(-34.6037), testutil.Float(-58.3816))
	fake.AddAddress("Sin Altura 1", "SIN ALTURA 1, CABA", nil, nil)
	s := newService(t, fake, 5)
	ctx := context.Background()

	tests := []struct {
		name    string
		address string
		success bool
		errMsg  string
	}{
		{"found", "Corrientes 1234", true, ""},
		{"no candidates", "Inexistente 99", false, "address not found"},
		{"no coordinates", "Sin Altura 1", false, "coordinates unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := s.Validate(ctx, tt.address, "")
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if r.Success != tt.success || r.Error != tt.errMsg {
				t.Fatalf("unexpected result %+v", r)
			}
			if tt.success && (r.Coordinates == nil || r.Nomenclature == "") {
				t.Fatalf("success without coordinates/nomenclature: %+v", r)
			}
		})
	}

	if got := fake.Queries[0].Get("provincia"); got != "buenos aires" {
		t.Fatalf("default province = %q", got)
	}
}

func TestValidate_EmptyAddress(t *testing.T) {
	s := newService(t, testutil.NewFakeGeoref(t), 5)
	if _, err := s.Validate(context.Background(), "   ", ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidate_CacheKeyIgnoresCaseAndSpace(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Corrientes 1234", "AV CORRIENTES 1234, CABA", testutil.Float(-34.6), testutil.Float(-58.38))
	s := newService(t, fake, 5)
	ctx := context.Background()

	for _, a := range []string{"Corrientes 1234", "  corrientes 1234", "CORRIENTES 1234 "} {
		if _, err := s.Validate(ctx, a, "Buenos Aires"); err != nil {
			t.Fatalf("Validate(%q): %v", a, err)
		}
	}
	if got := fake.Calls("/direcciones"); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
	if CacheKey(" Corrientes 1234 ", "Buenos Aires") != "corrientes 1234|buenos aires" {
		t.Fatalf("unexpected cache key")
	}
}

func TestValidateAndCheckZone_IdenticalCallsOneRequest(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Corrientes 1234", "AV CORRIENTES 1234, CABA", testutil.Float(-34.6037), testutil.Float(-58.3816))
	s := newService(t, fake, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.ValidateAndCheckZone(ctx, "Corrientes 1234")
			if err != nil {
				t.Errorf("ValidateAndCheckZone: %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()
	r, _ := s.ValidateAndCheckZone(ctx, "Corrientes 1234")

	if got := fake.Calls("/direcciones"); got != 1 {
		t.Fatalf("expected one upstream request, got %d", got)
	}
	for _, r := range append(results, r) {
		if !r.Success || !r.InDeliveryZone || r.Distance == nil || *r.Distance != 0 {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestValidateAndCheckZone_NoCoordinatesNeverInZone(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Sin Altura 1", "SIN ALTURA 1, CABA", nil, nil)
	s := newService(t, fake, 10000)

	r, err := s.ValidateAndCheckZone(context.Background(), "Sin Altura 1")
	if err != nil {
		t.Fatalf("ValidateAndCheckZone: %v", err)
	}
	if r.InDeliveryZone || r.Distance != nil || r.Success {
		t.Fatalf("address without coordinates must not be in zone: %+v", r)
	}
}

func TestValidateAndCheckZone_OutsideRadius(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Lejos 1", "LEJOS 1", testutil.Float(-34.9), testutil.Float(-57.95))
	s := newService(t, fake, 5)

	r, err := s.ValidateAndCheckZone(context.Background(), "Lejos 1")
	if err != nil {
		t.Fatalf("ValidateAndCheckZone: %v", err)
	}
	if !r.Success || r.InDeliveryZone || r.Distance == nil || *r.Distance < 5 {
		t.Fatalf("unexpected result %+v", r)
	}
	if last, ok := s.Zone().Last(); !ok || last.Address != "Lejos 1" {
		t.Fatalf("zone check not recorded: %+v", last)
	}
}

func TestValidate_TransportErrorsNotCached(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.Status["/direcciones"] = http.StatusTooManyRequests
	s := newService(t, fake, 5)
	ctx := context.Background()

	_, err := s.Validate(ctx, "Corrientes 1234", "")
	if !apperrors.IsRateLimited(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}

	fake.Mu.Lock()
	delete(fake.Status, "/direcciones")
	fake.Mu.Unlock()
	fake.AddAddress("Corrientes 1234", "AV CORRIENTES 1234", testutil.Float(-34.6), testutil.Float(-58.4))

	r, err := s.Validate(ctx, "Corrientes 1234", "")
	if err != nil || !r.Success {
		t.Fatalf("retry after failure = %+v, %v", r, err)
	}
}

type stubFallback struct {
	cands []geocode.Candidate
	err   error
	calls int
}

func (f *stubFallback) Geocode(ctx context.Context, address, province string) ([]geocode.Candidate, error) {
	f.calls++
	return f.cands, f.err
}

func TestValidate_Fallback(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Conocida 1", "CONOCIDA 1", testutil.Float(-34.6), testutil.Float(-58.4))
	fb := &stubFallback{cands: []geocode.Candidate{{FormattedAddress: "Pasaje Nuevo 10, CABA", Coordinates: obelisco}}}
	s := newService(t, fake, 5, WithFallback(fb))
	ctx := context.Background()

	r, err := s.Validate(ctx, "Pasaje Nuevo 10", "")
	if err != nil || !r.Success || r.Source != SourceGoogle {
		t.Fatalf("fallback result = %+v, %v", r, err)
	}
	if _, err := s.Validate(ctx, "Conocida 1", ""); err != nil {
		t.Fatal(err)
	}
	if fb.calls != 1 {
		t.Fatalf("fallback must only run when georef has no candidates, ran %d times", fb.calls)
	}

	failing := newService(t, fake, 5, WithFallback(&stubFallback{err: errors.New("denied")}))
	r, err = failing.Validate(ctx, "Otra 5", "")
	if err != nil || r.Success || r.Error != "address not found" {
		t.Fatalf("failed fallback should degrade to not found: %+v, %v", r, err)
	}
}

func TestValidate_RedisCacheSharedAndPurged(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Corrientes 1234", "AV CORRIENTES 1234", testutil.Float(-34.6), testutil.Float(-58.4))
	rt := testutil.NewRedisTest(t)
	shared := cache.NewRedis[Result](rt.Client, cache.Options{Name: "validation", TTL: time.Hour}, nil)

	a := newService(t, fake, 5, WithCache(shared))
	b := newService(t, fake, 5, WithCache(shared))
	ctx := context.Background()

	if _, err := a.Validate(ctx, "Corrientes 1234", ""); err != nil {
		t.Fatal(err)
	}
	r, err := b.Validate(ctx, "Corrientes 1234", "")
	if err != nil || !r.Success || r.Coordinates == nil {
		t.Fatalf("shared cache result = %+v, %v", r, err)
	}
	if got := fake.Calls("/direcciones"); got != 1 {
		t.Fatalf("expected instances to share one lookup, got %d", got)
	}

	if err := a.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := b.Validate(ctx, "Corrientes 1234", ""); err != nil {
		t.Fatal(err)
	}
	if got := fake.Calls("/direcciones"); got != 2 {
		t.Fatalf("expected a fresh lookup after purge, got %d", got)
	}
}
