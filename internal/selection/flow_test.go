package selection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"delivery-geolocation/internal/validation"
	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/geography"
)

// stubValidator answers from a table; addresses in block wait for release.
type stubValidator struct {
	mu      sync.Mutex
	results map[string]validation.Result
	errs    map[string]error
	block   map[string]chan struct{}
	started chan string
}

func (s *stubValidator) ValidateAndCheckZone(ctx context.Context, address string) (validation.Result, error) {
	s.mu.Lock()
	wait := s.block[address]
	r, err := s.results[address], s.errs[address]
	s.mu.Unlock()
	if s.started != nil {
		s.started <- address
	}
	if wait != nil {
		<-wait
	}
	return r, err
}

func inZone(address string) validation.Result {
	d := 1.2
	return validation.Result{
		Success: true, Address: address, Nomenclature: address + ", CABA",
		Coordinates: &geography.Coordinates{Lat: -34.6, Lon: -58.4}, Distance: &d, InDeliveryZone: true,
	}
}

func TestFlow_SelectResolvesAndNotifies(t *testing.T) {
	v := &stubValidator{results: map[string]validation.Result{"Corrientes 1234": inZone("Corrientes 1234")}}
	var got []Selection
	f := NewFlow(v, OnAddressSelected(func(s Selection) { got = append(got, s) }))

	if f.State() != Idle {
		t.Fatalf("new flow should be idle")
	}
	sel, err := f.Select(context.Background(), Request{Address: " Corrientes 1234 ", StreetID: "0200101000510"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !sel.Result.InDeliveryZone || sel.Address != "Corrientes 1234" || sel.StreetID != "0200101000510" {
		t.Fatalf("unexpected selection %+v", sel)
	}
	if f.State() != Resolved {
		t.Fatalf("state = %s", f.State())
	}
	if len(got) != 1 || got[0].Address != "Corrientes 1234" {
		t.Fatalf("callback not invoked once: %+v", got)
	}
}

func TestFlow_ErrorsBecomeFailureResults(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"rate limited", apperrors.NewHTTPStatus("georef.ResolveAddress", "georef", 429), "rate limit exceeded, try again later"},
		{"upstream down", apperrors.NewExternal("georef.ResolveAddress", "georef", "request failed", errors.New("dial tcp")), apperrors.MsgUpstreamFailure},
		{"empty address", apperrors.NewValidation("validation.Validate", apperrors.MsgInvalidAddress, nil), apperrors.MsgInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubValidator{errs: map[string]error{"x": tt.err}}
			notified := 0
			f := NewFlow(v, OnAddressSelected(func(Selection) { notified++ }))

			sel, err := f.Select(context.Background(), Request{Address: "x"})
			if err != nil {
				t.Fatalf("Select must not return validation errors: %v", err)
			}
			if sel.Result.Success || sel.Result.InDeliveryZone || sel.Result.Error != tt.msg {
				t.Fatalf("unexpected failure result %+v", sel.Result)
			}
			if f.State() != Resolved || notified != 1 {
				t.Fatalf("state=%s notified=%d", f.State(), notified)
			}
		})
	}
}

func TestFlow_StaleValidationDiscarded(t *testing.T) {
	release := make(chan struct{})
	v := &stubValidator{
		results: map[string]validation.Result{"old": inZone("old"), "new": inZone("new")},
		block:   map[string]chan struct{}{"old": release},
		started: make(chan string, 2),
	}
	var notified []string
	var mu sync.Mutex
	f := NewFlow(v, OnAddressSelected(func(s Selection) {
		mu.Lock()
		notified = append(notified, s.Address)
		mu.Unlock()
	}))

	oldErr := make(chan error, 1)
	go func() {
		_, err := f.Select(context.Background(), Request{Address: "old"})
		oldErr <- err
	}()
	<-v.started
	if f.State() != Validating || f.Snapshot().Pending != "old" {
		t.Fatalf("expected validating old, got %+v", f.Snapshot())
	}

	if _, err := f.Select(context.Background(), Request{Address: "new"}); err != nil {
		t.Fatalf("Select new: %v", err)
	}
	<-v.started
	close(release)

	if err := <-oldErr; !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	snap := f.Snapshot()
	if snap.State != Resolved || snap.Selected == nil || snap.Selected.Address != "new" {
		t.Fatalf("stale result overwrote state: %+v", snap)
	}
	if len(notified) != 1 || notified[0] != "new" {
		t.Fatalf("callback should only see the newest pick: %v", notified)
	}
}

func TestFlow_ClearDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	v := &stubValidator{
		results: map[string]validation.Result{"a": inZone("a")},
		block:   map[string]chan struct{}{"a": release},
		started: make(chan string, 1),
	}
	f := NewFlow(v)

	done := make(chan error, 1)
	go func() {
		_, err := f.Select(context.Background(), Request{Address: "a"})
		done <- err
	}()
	<-v.started
	f.Clear()
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale after clear, got %v", err)
	}
	if snap := f.Snapshot(); snap.State != Idle || snap.Selected != nil {
		t.Fatalf("expected idle after clear, got %+v", snap)
	}
}

func TestStore_SessionsAndSweep(t *testing.T) {
	v := &stubValidator{results: map[string]validation.Result{"a": inZone("a")}}
	s := NewStore(func() *Flow { return NewFlow(v) }, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	f := s.Flow("s1")
	if s.Flow("s1") != f {
		t.Fatalf("expected same flow for session")
	}
	if _, ok := s.Get("s2"); ok {
		t.Fatalf("Get must not create sessions")
	}
	_, _ = f.Select(context.Background(), Request{Address: "a"})
	s.Flow("s2")

	now = now.Add(2 * time.Minute)
	s.Flow("s2")
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	if _, ok := s.Get("s1"); ok {
		t.Fatalf("s1 should be gone")
	}

	s.Delete("s2")
	if s.Count() != 0 {
		t.Fatalf("expected empty store, got %d", s.Count())
	}
}
