package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	apperrors "delivery-geolocation/pkg/errors"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// statusFor maps service errors onto HTTP statuses: bad input 400,
// upstream throttling 429, other upstream failures 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	case apperrors.IsRateLimited(err):
		return http.StatusTooManyRequests
	case apperrors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrBiz):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrExternal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.log.WithContext(r.Context()).Error("request failed", err, loggingPath(r))
	}
	msg := apperrors.UserMessage(err)
	if status == http.StatusGatewayTimeout || status == 499 {
		msg = "request timed out"
	}
	writeError(w, status, msg, nil)
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", fieldErrors(err))
		return false
	}
	return true
}

// fieldErrors flattens validator errors to {"field": "tag"}.
func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
