// Package api exposes street search, address validation, the selection
// flow, the delivery zone and reverse geolocation over JSON/HTTP.
package api

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"delivery-geolocation/internal/georef"
	"delivery-geolocation/internal/location"
	"delivery-geolocation/internal/search"
	"delivery-geolocation/internal/selection"
	"delivery-geolocation/internal/validation"
	"delivery-geolocation/internal/zone"
	"delivery-geolocation/pkg/geography"
	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/monitoring"
)

const maxLimit = 100

// Deps are the services behind the routes. Location may be nil, which
// disables the reverse geocoding route.
type Deps struct {
	Engine     *search.Engine
	Sessions   *search.Sessions
	Streets    georef.StreetSource
	Validation *validation.Service
	Selections *selection.Store
	Location   *location.Service
}

type Handler struct {
	d        Deps
	validate *validator.Validate
	log      *logging.ComponentLogger
	limit    atomic.Int64
}

func New(d Deps, defaultLimit int, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	h := &Handler{d: d, validate: v, log: log.WithComponent("api")}
	h.SetDefaultLimit(defaultLimit)
	return h
}

// SetDefaultLimit changes the search limit used when the client sends none.
func (h *Handler) SetDefaultLimit(n int) {
	if n <= 0 {
		n = search.DefaultLimit
	}
	h.limit.Store(int64(n))
}

// Register mounts every route on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/streets/search", h.searchStreets).Methods(http.MethodGet)
	api.HandleFunc("/streets/explain", h.explainSearch).Methods(http.MethodGet)
	api.HandleFunc("/streets", h.listStreets).Methods(http.MethodGet)

	api.HandleFunc("/addresses/validate", h.validateAddress).Methods(http.MethodPost)
	api.HandleFunc("/addresses/cache", h.purgeCache).Methods(http.MethodDelete)
	api.HandleFunc("/addresses/selection/{session}", h.selectAddress).Methods(http.MethodPost)
	api.HandleFunc("/addresses/selection/{session}", h.getSelection).Methods(http.MethodGet)
	api.HandleFunc("/addresses/selection/{session}", h.clearSelection).Methods(http.MethodDelete)

	api.HandleFunc("/zone", h.getZone).Methods(http.MethodGet)
	api.HandleFunc("/zone/check", h.checkZone).Methods(http.MethodPost)

	api.HandleFunc("/location", h.locate).Methods(http.MethodPost)
	api.HandleFunc("/location/options", h.locationOptions).Methods(http.MethodGet)
}

// Router returns a router with the routes and the request middleware.
func (h *Handler) Router(m *monitoring.Metrics, log *logging.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(monitoring.Middleware(m, log)))
	h.Register(r)
	return r
}

func loggingPath(r *http.Request) logging.Field { return logging.String("path", r.URL.Path) }

func (h *Handler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return int(h.limit.Load()), true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100", nil)
		return 0, false
	}
	return n, true
}

type searchResponse struct {
	Query   string                `json:"query"`
	Results []search.ScoredStreet `json:"results"`
}

// searchStreets backs the autocomplete box. With X-Session-ID, a request
// overtaken by a newer one from the same session answers 409.
func (h *Handler) searchStreets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	var (
		res []search.ScoredStreet
		err error
	)
	if sid := r.Header.Get(monitoring.SessionIDHeader); sid != "" && h.d.Sessions != nil {
		res, err = h.d.Sessions.For(sid).Search(r.Context(), q, limit)
	} else {
		res, err = h.d.Engine.Search(r.Context(), q, limit)
	}
	if errors.Is(err, search.ErrSuperseded) {
		writeError(w, http.StatusConflict, "superseded", nil)
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if res == nil {
		res = []search.ScoredStreet{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Results: res})
}

func (h *Handler) explainSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}
	rep, err := h.d.Engine.Explain(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// listStreets is a raw /calles page with the directory's own pagination.
func (h *Handler) listStreets(w http.ResponseWriter, r *http.Request) {
	qv := r.URL.Query()
	q := georef.StreetQuery{Name: strings.TrimSpace(qv.Get("nombre")), Category: qv.Get("categoria")}
	if q.Name == "" {
		writeError(w, http.StatusBadRequest, "nombre is required", nil)
		return
	}
	for key, dst := range map[string]*int{"max": &q.Max, "inicio": &q.Start} {
		raw := qv.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, key+" must be a non-negative integer", nil)
			return
		}
		*dst = n
	}
	page, err := h.d.Streets.SearchStreets(r.Context(), q)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type validateRequest struct {
	Address   string `json:"address" validate:"required,max=300"`
	Province  string `json:"province" validate:"omitempty,max=100"`
	CheckZone bool   `json:"check_zone"`
}

// validateAddress resolves one address. Unknown addresses are a 200 with
// success=false; only upstream failures are errors.
func (h *Handler) validateAddress(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !h.decode(w, r, &req) {
		return
	}
	var (
		res validation.Result
		err error
	)
	if req.CheckZone && req.Province == "" {
		res, err = h.d.Validation.ValidateAndCheckZone(r.Context(), req.Address)
	} else {
		res, err = h.d.Validation.Validate(r.Context(), req.Address, req.Province)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) purgeCache(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Validation.Purge(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selectAddress(w http.ResponseWriter, r *http.Request) {
	var req selection.Request
	if !h.decode(w, r, &req) {
		return
	}
	sid := mux.Vars(r)["session"]
	ctx := logging.WithSessionID(r.Context(), sid)

	sel, err := h.d.Selections.Flow(sid).Select(ctx, req)
	if errors.Is(err, selection.ErrStale) {
		writeError(w, http.StatusConflict, "superseded", nil)
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (h *Handler) getSelection(w http.ResponseWriter, r *http.Request) {
	f, ok := h.d.Selections.Get(mux.Vars(r)["session"])
	if !ok {
		writeJSON(w, http.StatusOK, selection.Snapshot{State: selection.Idle})
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

// clearSelection resets the flow and forgets the session.
func (h *Handler) clearSelection(w http.ResponseWriter, r *http.Request) {
	h.d.Selections.Delete(mux.Vars(r)["session"])
	w.WriteHeader(http.StatusNoContent)
}

type zoneResponse struct {
	Mode      zone.Mode   `json:"mode"`
	Config    zone.Config `json:"config"`
	LastCheck *zone.Check `json:"last_check,omitempty"`
}

func (h *Handler) getZone(w http.ResponseWriter, r *http.Request) {
	z := h.d.Validation.Zone()
	if z == nil {
		writeError(w, http.StatusNotFound, "no delivery zone configured", nil)
		return
	}
	resp := zoneResponse{Mode: z.Mode(), Config: z.Config()}
	if last, ok := z.Last(); ok {
		resp.LastCheck = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

type pointRequest struct {
	Lat     *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lon     *float64 `json:"lon" validate:"required,min=-180,max=180"`
	Address string   `json:"address" validate:"omitempty,max=300"`
}

func (h *Handler) checkZone(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if !h.decode(w, r, &req) {
		return
	}
	z := h.d.Validation.Zone()
	if z == nil {
		writeError(w, http.StatusNotFound, "no delivery zone configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, z.Check(req.Address, geography.Coordinates{Lat: *req.Lat, Lon: *req.Lon}))
}

type locateRequest struct {
	Lat       *float64 `json:"lat" validate:"required_without=ErrorCode,omitempty,min=-90,max=90"`
	Lon       *float64 `json:"lon" validate:"required_without=ErrorCode,omitempty,min=-180,max=180"`
	ErrorCode *int     `json:"error_code"`
}

type locateError struct {
	ErrorCode int    `json:"error_code"`
	Error     string `json:"error"`
}

// locate turns a browser position into a place label. A client that got a
// geolocation error instead posts its code and receives the message to show.
func (h *Handler) locate(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ErrorCode != nil {
		writeJSON(w, http.StatusOK, locateError{ErrorCode: *req.ErrorCode, Error: location.PositionErrorMessage(*req.ErrorCode)})
		return
	}
	if h.d.Location == nil {
		writeError(w, http.StatusNotFound, "reverse geocoding disabled", nil)
		return
	}
	place, err := h.d.Location.Reverse(r.Context(), *req.Lat, *req.Lon)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

func (h *Handler) locationOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, location.DefaultPositionOptions())
}
