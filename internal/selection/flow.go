// Package selection drives the pick-an-address interaction: the user picks
// a suggestion, the address is validated and zone-checked, and the outcome
// is published to whoever embeds the flow.
package selection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"delivery-geolocation/internal/validation"
	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/logging"
)

type State string

const (
	Idle       State = "idle"
	Validating State = "validating"
	Resolved   State = "resolved"
)

// ErrStale marks a validation that finished after a newer Select or Clear.
var ErrStale = errors.New("selection superseded")

// Request is what the user picked. StreetID and StreetName come from the
// autocomplete suggestion when there was one.
type Request struct {
	Address    string `json:"address" validate:"required,max=300"`
	StreetID   string `json:"street_id,omitempty" validate:"omitempty,max=64"`
	StreetName string `json:"street_name,omitempty" validate:"omitempty,max=200"`
}

// Selection is a resolved pick.
type Selection struct {
	Request
	Result     validation.Result `json:"result"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// Snapshot is the externally visible state of a flow.
type Snapshot struct {
	State    State      `json:"state"`
	Pending  string     `json:"pending,omitempty"`
	Selected *Selection `json:"selected,omitempty"`
}

// Validator is satisfied by *validation.Service.
type Validator interface {
	ValidateAndCheckZone(ctx context.Context, address string) (validation.Result, error)
}

type Flow struct {
	v   Validator
	log *logging.ComponentLogger
	now func() time.Time

	mu         sync.Mutex
	state      State
	seq        uint64
	pending    string
	current    *Selection
	onSelected func(Selection)
}

type Option func(*Flow)

// OnAddressSelected registers the callback run after every resolution,
// successful or not.
func OnAddressSelected(fn func(Selection)) Option { return func(f *Flow) { f.onSelected = fn } }

func WithLogger(l *logging.Logger) Option {
	return func(f *Flow) { f.log = l.WithComponent("selection") }
}

func NewFlow(v Validator, opts ...Option) *Flow {
	f := &Flow{v: v, state: Idle, now: time.Now, log: logging.Nop().WithComponent("selection")}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Select validates req and resolves the flow. Validation failures never
// escape as errors: they become an unsuccessful result that is outside the
// delivery zone. The only error is ErrStale, returned when a newer Select or
// a Clear happened while this one was validating.
func (f *Flow) Select(ctx context.Context, req Request) (Selection, error) {
	req.Address = strings.TrimSpace(req.Address)

	f.mu.Lock()
	f.seq++
	mine := f.seq
	f.state = Validating
	f.pending = req.Address
	f.mu.Unlock()

	res, err := f.v.ValidateAndCheckZone(ctx, req.Address)
	if err != nil {
		f.log.WithContext(ctx).Warn("address validation failed",
			logging.String("address", req.Address),
			logging.Error(err))
		res = failure(req.Address, err)
	}
	sel := Selection{Request: req, Result: res, ResolvedAt: f.now()}

	f.mu.Lock()
	if f.seq != mine {
		f.mu.Unlock()
		return sel, ErrStale
	}
	f.state = Resolved
	f.pending = ""
	f.current = &sel
	cb := f.onSelected
	f.mu.Unlock()

	if cb != nil {
		cb(sel)
	}
	return sel, nil
}

func failure(address string, err error) validation.Result {
	return validation.Result{
		Success:        false,
		Address:        address,
		InDeliveryZone: false,
		Error:          apperrors.UserMessage(err),
	}
}

// Clear drops the selection and discards any validation in flight.
func (f *Flow) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.state = Idle
	f.pending = ""
	f.current = nil
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{State: f.state, Pending: f.pending}
	if f.current != nil {
		cp := *f.current
		s.Selected = &cp
	}
	return s
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
