// Package graph is a client for the drive endpoints of the Microsoft Graph
// API. Plain metadata calls go through a retrying request path; the
// multi-request protocols (upload sessions, copy monitors, paged listings and
// delta queries) are exposed as single-owner driver objects that issue
// exactly one request per call and never retry.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrNotFound) to check.
var (
	ErrNotModified         = errors.New("graph: not modified")
	ErrBadRequest          = errors.New("graph: bad request")
	ErrUnauthorized        = errors.New("graph: unauthorized")
	ErrForbidden           = errors.New("graph: forbidden")
	ErrNotFound            = errors.New("graph: not found")
	ErrConflict            = errors.New("graph: conflict")
	ErrGone                = errors.New("graph: resource gone")
	ErrPreconditionFailed  = errors.New("graph: precondition failed")
	ErrRangeNotSatisfiable = errors.New("graph: range not satisfiable")
	ErrThrottled           = errors.New("graph: throttled")
	ErrLocked              = errors.New("graph: resource locked")
	ErrServerError         = errors.New("graph: server error")
)

// Error kinds. Every error returned by this package matches exactly one.
var (
	ErrTransport = errors.New("graph: transport failure")
	ErrProtocol  = errors.New("graph: protocol violation")
	ErrMisuse    = errors.New("graph: misuse")
)

// TransportError reports a request that produced no usable response: the
// connection failed, or the server answered with a non-success status and a
// body that is not a Graph error object. StatusCode is 0 in the first case.
type TransportError struct {
	Method     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("graph: %s: HTTP %d without error body", e.Method, e.StatusCode)
	}

	return fmt.Sprintf("graph: %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() []error {
	errs := []error{ErrTransport}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	if sentinel := classifyStatus(e.StatusCode); sentinel != nil {
		errs = append(errs, sentinel)
	}

	return errs
}

// APIError is a non-success response carrying a Graph error object.
type APIError struct {
	StatusCode int
	RequestID  string
	Object     *resource.ErrorObject
	// RetryAfter is the server-requested delay, zero if none was sent.
	RetryAfter time.Duration
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Object)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Object)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Code returns the innermost error code reported by the server.
func (e *APIError) Code() string {
	return e.Object.InnermostCode()
}

// ProtocolError reports a well-formed response that violates the protocol
// being driven, such as an upload session response without nextExpectedRanges.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph: %s: protocol violation: %s: %v", e.Op, e.Reason, e.Err)
	}

	return fmt.Sprintf("graph: %s: protocol violation: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}

	return []error{ErrProtocol}
}

// MisuseError reports a call that violates a driver precondition. No request
// was sent.
type MisuseError struct {
	Op     string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("graph: %s: %s", e.Op, e.Reason)
}

func (e *MisuseError) Unwrap() error {
	return ErrMisuse
}

func protocolErr(op, reason string, err error) error {
	return &ProtocolError{Op: op, Reason: reason, Err: err}
}

func misuse(op, format string, args ...any) error {
	return &MisuseError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusNotModified:
		return ErrNotModified
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryableStatus reports whether the given HTTP status code should be retried.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}

// IsRetryable reports whether repeating the failed call may succeed.
// Protocol and misuse errors never are; cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.StatusCode)
	}

	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr.StatusCode == 0 || isRetryableStatus(tErr.StatusCode)
	}

	return false
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}

	return 0, false
}
