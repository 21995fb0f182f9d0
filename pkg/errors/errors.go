// Package errors provides structured error types used across the service.
// We prefer these over raw fmt.Errorf strings so handlers and the selection
// flow can branch with errors.Is / errors.As instead of matching messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// User-facing messages. The rate limit message is distinct on purpose so the
// UI can tell the user to wait instead of retrying immediately.
const (
	MsgRateLimited      = "rate limit exceeded, try again later"
	MsgUpstreamFailure  = "address service unavailable, try again"
	MsgAddressNotFound  = "address not found"
	MsgNoCoordinates    = "coordinates unavailable"
	MsgInvalidAddress   = "address is required"
	MsgValidationFailed = "address validation failed"
)

// ValidationError indicates invalid input/config/state provided by a caller.
type ValidationError struct {
	Op  string // where it happened (package.Function)
	Msg string // human friendly message (no PII)
	Err error  // underlying cause (optional)
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("validation: %s: %s", e.Op, e.Msg)
}

func (e *ValidationError) Unwrap() error     { return e.Err }
func (e *ValidationError) Operation() string { return e.Op }
func (e *ValidationError) Message() string   { return e.Msg }

func NewValidation(op, msg string, err error) error {
	return &ValidationError{Op: op, Msg: msg, Err: err}
}

// ExternalAPIError represents failures talking to Georef, Nominatim or Google.
// StatusCode is the upstream HTTP status; 0 means the request never got a
// response (connectivity, timeout, open breaker).
type ExternalAPIError struct {
	Op         string
	Msg        string
	Err        error
	System     string // "georef" / "nominatim" / "google"
	StatusCode int
}

func (e *ExternalAPIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	sys := e.System
	if sys == "" {
		sys = "external"
	}
	status := ""
	if e.StatusCode != 0 {
		status = fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s%s: %v", sys, e.Op, e.Msg, status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s%s", sys, e.Op, e.Msg, status)
}

func (e *ExternalAPIError) Unwrap() error     { return e.Err }
func (e *ExternalAPIError) Operation() string { return e.Op }
func (e *ExternalAPIError) Message() string   { return e.Msg }

func NewExternal(op, system, msg string, err error) error {
	return &ExternalAPIError{Op: op, System: system, Msg: msg, Err: err}
}

// NewHTTPStatus builds an ExternalAPIError for a non-2xx upstream response.
func NewHTTPStatus(op, system string, status int) error {
	msg := "unexpected upstream status"
	if status == http.StatusTooManyRequests {
		msg = MsgRateLimited
	}
	return &ExternalAPIError{Op: op, System: system, Msg: msg, StatusCode: status}
}

// BizError is for domain failures that aren't programmer bugs.
type BizError struct {
	Op  string
	Msg string
	Err error
}

func (e *BizError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("biz: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("biz: %s: %s", e.Op, e.Msg)
}

func (e *BizError) Unwrap() error     { return e.Err }
func (e *BizError) Operation() string { return e.Op }
func (e *BizError) Message() string   { return e.Msg }

func NewBiz(op, msg string, err error) error { return &BizError{Op: op, Msg: msg, Err: err} }

// Kind sentinels: errors.Is(err, ErrExternal) style checks via Is below.
var (
	ErrValidation = &ValidationError{}
	ErrExternal   = &ExternalAPIError{}
	ErrBiz        = &BizError{}
)

// Is enables Is(err, ErrValidation) via errors.As semantics.
func Is(err, target error) bool {
	if err == nil || target == nil {
		return errors.Is(err, target)
	}
	switch target.(type) {
	case *ValidationError:
		var v *ValidationError
		return errors.As(err, &v)
	case *ExternalAPIError:
		var ex *ExternalAPIError
		return errors.As(err, &ex)
	case *BizError:
		var b *BizError
		return errors.As(err, &b)
	default:
		return errors.Is(err, target)
	}
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ex *ExternalAPIError
	if errors.As(err, &ex) {
		return ex.StatusCode
	}
	return 0
}

// IsRateLimited reports whether err wraps an upstream HTTP 429.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

// UserMessage collapses err into the message shown to end users.
// Network and malformed-response failures intentionally share one message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsRateLimited(err) {
		return MsgRateLimited
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Msg
	}
	var b *BizError
	if errors.As(err, &b) {
		return b.Msg
	}
	if Is(err, ErrExternal) {
		return MsgUpstreamFailure
	}
	return MsgValidationFailed
}
