package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"delivery-geolocation/pkg/logging"
)

func TestMiddleware_RequestAndSessionIDs(t *testing.T) {
	m := NewMetrics(8)
	var gotRID, gotSID string
	h := Middleware(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRID = logging.RequestIDFromContext(r.Context())
		gotSID = logging.SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/streets/search?q=gut", nil)
	req.Header.Set(SessionIDHeader, "tab-1")
	h.ServeHTTP(rec, req)

	if gotRID == "" || rec.Header().Get(RequestIDHeader) != gotRID {
		t.Fatalf("request id not propagated: ctx=%q header=%q", gotRID, rec.Header().Get(RequestIDHeader))
	}
	if gotSID != "tab-1" {
		t.Fatalf("session id = %q", gotSID)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if gotRID != "upstream-42" {
		t.Fatalf("caller request id should be reused, got %q", gotRID)
	}

	if count, _, _, _ := m.Snapshot(); count != 2 {
		t.Fatalf("expected 2 observations, got %d", count)
	}
}

func TestSnapshot_Quantiles(t *testing.T) {
	m := NewMetrics(4)
	for _, v := range []float64{100, 1, 2, 3, 4} {
		m.Observe(v, http.StatusOK)
	}
	count, avg, p50, p95 := m.Snapshot()
	if count != 5 {
		t.Fatalf("count = %d", count)
	}
	// ring of 4 keeps 1..4
	if avg != 2.5 || p50 != 3 || p95 != 4 {
		t.Fatalf("avg=%v p50=%v p95=%v", avg, p50, p95)
	}
}

func TestAdminMux(t *testing.T) {
	m := NewMetrics(4)
	m.Observe(12, http.StatusOK)

	mux := AdminMux(m, "/metrics", false)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	AdminMux(m, "/metrics", true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pprof index expected, got %d", rec.Code)
	}
}
