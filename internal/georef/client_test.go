package georef_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"delivery-geolocation/internal/georef"
	testutil "delivery-geolocation/internal/testing"
	"delivery-geolocation/pkg/cache"
	"delivery-geolocation/pkg/circuit"
	apperrors "delivery-geolocation/pkg/errors"
)

func TestSearchStreets_SendsScopeAndParams(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddStreet("0200101000510", "GUTIERREZ")

	c := georef.New(georef.Config{BaseURL: fake.URL(), Province: "02", Department: "02007"})
	page, err := c.SearchStreets(context.Background(), georef.StreetQuery{Name: "gutierrez", Category: "CALLE", Max: 5, Start: 2})
	if err != nil {
		t.Fatalf("SearchStreets: %v", err)
	}
	if page.Count != 1 || page.Streets[0].ID != "0200101000510" {
		t.Fatalf("unexpected page: %+v", page)
	}

	q := fake.Queries[0]
	for k, want := range map[string]string{
		"nombre": "gutierrez", "provincia": "02", "departamento": "02007",
		"categoria": "CALLE", "max": "5", "inicio": "2",
	} {
		if got := q.Get(k); got != want {
			t.Errorf("param %s = %q, want %q", k, got, want)
		}
	}
}

func TestSearchStreets_RateLimited(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.Status["/calles"] = http.StatusTooManyRequests

	c := georef.New(georef.Config{BaseURL: fake.URL()})
	_, err := c.SearchStreets(context.Background(), georef.StreetQuery{Name: "x y"})
	if !apperrors.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if apperrors.UserMessage(err) != "rate limit exceeded, try again later" {
		t.Fatalf("unexpected user message %q", apperrors.UserMessage(err))
	}
}

func TestSearchStreets_ServerErrorAndMalformed(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{"5xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, http.StatusBadGateway},
		{"malformed", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{not json")) }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := georef.New(georef.Config{BaseURL: srv.URL})
			_, err := c.SearchStreets(context.Background(), georef.StreetQuery{Name: "calle"})
			if !apperrors.Is(err, apperrors.ErrExternal) {
				t.Fatalf("expected external error, got %v", err)
			}
			if apperrors.StatusCode(err) != tt.wantStatus {
				t.Fatalf("status = %d, want %d", apperrors.StatusCode(err), tt.wantStatus)
			}
		})
	}
}

func TestSearchStreets_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := georef.New(georef.Config{BaseURL: url, Timeout: time.Second})
	_, err := c.SearchStreets(context.Background(), georef.StreetQuery{Name: "calle"})
	if !apperrors.Is(err, apperrors.ErrExternal) || apperrors.StatusCode(err) != 0 {
		t.Fatalf("expected status-less external error, got %v", err)
	}
}

func TestSearchStreets_CachedByQuery(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddStreet("1", "CORRIENTES")
	sc := cache.NewLRU[georef.StreetPage](cache.Options{Name: "t_streets", MaxSize: 10})
	c := georef.New(georef.Config{BaseURL: fake.URL()}, georef.WithStreetCache(sc))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.SearchStreets(ctx, georef.StreetQuery{Name: "corrientes"}); err != nil {
			t.Fatalf("SearchStreets: %v", err)
		}
	}
	if _, err := c.SearchStreets(ctx, georef.StreetQuery{Name: "corrientes", Max: 3}); err != nil {
		t.Fatalf("SearchStreets: %v", err)
	}
	if got := fake.Calls("/calles"); got != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", got)
	}
}

func TestResolveAddress_NullableLocation(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddAddress("Corrientes 1234", "AV CORRIENTES 1234, CABA", testutil.Float(-34.6037), testutil.Float(-58.3816))
	fake.AddAddress("Sin Numero 1", "SIN NUMERO 1, CABA", nil, nil)

	c := georef.New(georef.Config{BaseURL: fake.URL()})
	ctx := context.Background()

	page, err := c.ResolveAddress(ctx, georef.AddressQuery{Address: "Corrientes 1234", Province: "buenos aires", Max: 1})
	if err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}
	p, ok := page.Addresses[0].Location.Coordinates()
	if !ok || p.Lat != -34.6037 || p.Lon != -58.3816 {
		t.Fatalf("unexpected coordinates %+v %v", p, ok)
	}
	if q := fake.Queries[0]; q.Get("provincia") != "buenos aires" || q.Get("max") != "1" {
		t.Fatalf("unexpected params %v", q)
	}

	page, err = c.ResolveAddress(ctx, georef.AddressQuery{Address: "Sin Numero 1"})
	if err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}
	if _, ok := page.Addresses[0].Location.Coordinates(); ok {
		t.Fatalf("expected missing coordinates")
	}
}

func TestBreakerFailsFast(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.Status["/calles"] = http.StatusServiceUnavailable

	b := circuit.New(circuit.Config{Name: "t_georef", MaxConsecFailures: 2, OpenFor: time.Hour, IsFailure: georef.UpstreamFailure}, nil)
	c := georef.New(georef.Config{BaseURL: fake.URL()}, georef.WithBreaker(b))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = c.SearchStreets(ctx, georef.StreetQuery{Name: "calle"})
	}
	if got := fake.Calls("/calles"); got != 2 {
		t.Fatalf("expected breaker to stop after 2 calls, got %d", got)
	}
	if b.State() != circuit.Open {
		t.Fatalf("breaker state %s", b.State())
	}
}

type countingTransport struct {
	n    int
	base http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.n++
	return c.base.RoundTrip(r)
}

func TestWithHTTPClient_UsesGivenTransport(t *testing.T) {
	fake := testutil.NewFakeGeoref(t)
	fake.AddStreet("1", "GUTIERREZ")

	rt := &countingTransport{base: http.DefaultTransport}
	c := georef.New(georef.Config{BaseURL: fake.URL()},
		georef.WithHTTPClient(&http.Client{Transport: rt, Timeout: time.Second}))
	if _, err := c.SearchStreets(context.Background(), georef.StreetQuery{Name: "gutierrez"}); err != nil {
		t.Fatalf("SearchStreets: %v", err)
	}
	if rt.n != 1 {
		t.Fatalf("expected 1 round trip through the custom client, got %d", rt.n)
	}
}
