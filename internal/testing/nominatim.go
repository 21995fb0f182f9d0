package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// FakeNominatim answers /reverse with a fixed body and remembers the last
// User-Agent so tests can assert the usage policy header is sent.
type FakeNominatim struct {
	Server *httptest.Server

	Mu            sync.Mutex
	Body          string
	Status        int
	LastUserAgent string
	Hits          int
}

func NewFakeNominatim(t *testing.T, body string) *FakeNominatim {
	t.Helper()
	f := &FakeNominatim{Body: body, Status: http.StatusOK}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.Mu.Lock()
		f.Hits++
		f.LastUserAgent = r.Header.Get("User-Agent")
		status, body := f.Status, f.Body
		f.Mu.Unlock()

		if r.URL.Path != "/reverse" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeNominatim) URL() string { return f.Server.URL }
