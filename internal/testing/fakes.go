package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"delivery-geolocation/internal/georef"
	"delivery-geolocation/internal/normalize"
)

// FakeGeoref serves /calles and /direcciones from in-memory fixtures and
// counts every request it receives.
type FakeGeoref struct {
	Server *httptest.Server

	Mu        sync.Mutex
	Streets   []georef.Street
	Addresses map[string][]georef.Address // keyed by normalized direccion
	Status    map[string]int              // forced status per path, e.g. "/calles": 429
	Queries   []url.Values
	calls     map[string]int
}

// NewFakeGeoref starts the server; it is closed by t.Cleanup.
func NewFakeGeoref(t *testing.T) *FakeGeoref {
	t.Helper()
	f := &FakeGeoref{
		Addresses: map[string][]georef.Address{},
		Status:    map[string]int{},
		calls:     map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/calles", f.calles)
	mux.HandleFunc("/direcciones", f.direcciones)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeGeoref) URL() string { return f.Server.URL }

// Calls returns how many requests hit path ("" = all paths).
func (f *FakeGeoref) Calls(path string) int {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	if path == "" {
		n := 0
		for _, c := range f.calls {
			n += c
		}
		return n
	}
	return f.calls[path]
}

// AddStreet appends a catalogue entry with nomenclature defaulting to the name.
func (f *FakeGeoref) AddStreet(id, name string) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Streets = append(f.Streets, georef.Street{
		ID:           id,
		Name:         name,
		Category:     "CALLE",
		Nomenclature: name + ", Comuna 1, Ciudad Autónoma de Buenos Aires",
	})
}

// AddAddress registers a /direcciones answer; lat/lon nil means no coordinates.
func (f *FakeGeoref) AddAddress(query, nomenclature string, lat, lon *float64) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	key := normalize.Normalize(query)
	f.Addresses[key] = append(f.Addresses[key], georef.Address{
		Nomenclature: nomenclature,
		Location:     &georef.Location{Lat: lat, Lon: lon},
	})
}

func (f *FakeGeoref) record(r *http.Request) (int, bool) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.calls[r.URL.Path]++
	f.Queries = append(f.Queries, r.URL.Query())
	st, forced := f.Status[r.URL.Path]
	return st, forced
}

// matches reports whether every query token occurs in the street name.
func matches(query string, s georef.Street) bool {
	name := normalize.Normalize(s.Name)
	for _, tok := range normalize.Tokens(query) {
		if !strings.Contains(name, tok) {
			return false
		}
	}
	return true
}

func (f *FakeGeoref) calles(w http.ResponseWriter, r *http.Request) {
	if st, forced := f.record(r); forced {
		http.Error(w, http.StatusText(st), st)
		return
	}
	q := r.URL.Query().Get("nombre")

	f.Mu.Lock()
	var hits []georef.Street
	for _, s := range f.Streets {
		if matches(q, s) {
			hits = append(hits, s)
		}
	}
	f.Mu.Unlock()

	writeJSON(w, georef.StreetPage{Count: len(hits), Total: len(hits), Streets: hits})
}

func (f *FakeGeoref) direcciones(w http.ResponseWriter, r *http.Request) {
	if st, forced := f.record(r); forced {
		http.Error(w, http.StatusText(st), st)
		return
	}
	key := normalize.Normalize(r.URL.Query().Get("direccion"))

	f.Mu.Lock()
	hits := f.Addresses[key]
	f.Mu.Unlock()

	writeJSON(w, georef.AddressPage{Count: len(hits), Total: len(hits), Addresses: hits})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Float returns a pointer to v for optional coordinates.
func Float(v float64) *float64 { return &v }
