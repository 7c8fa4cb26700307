// Package errors defines the gateway rejection taxonomy and the error kinds
// returned by the origin-of-record contract.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind identifies a rejection reason independently of its wire code.
type Kind string

const (
	KindForbidden           Kind = "forbidden"
	KindIPNotAllowed        Kind = "ip_not_allowed"
	KindMissingHeaders      Kind = "missing_headers"
	KindInvalidAccessKey    Kind = "invalid_access_key"
	KindInvalidNonce        Kind = "invalid_nonce"
	KindTimestampExpired    Kind = "timestamp_expired"
	KindSignatureMismatch   Kind = "signature_mismatch"
	KindRouteNotFound       Kind = "route_not_found"
	KindNoGrant             Kind = "no_grant"
	KindQuotaExhausted      Kind = "quota_exhausted"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindRateLimited         Kind = "rate_limited"
	KindServiceDegraded     Kind = "service_degraded"
	KindNotFound            Kind = "not_found"
	KindSystem              Kind = "system_error"
)

// GatewayError is a tagged rejection that maps to an HTTP status and a
// {"code","message"} JSON body.
type GatewayError struct {
	Kind       Kind
	Code       int
	Message    string
	HTTPStatus int
	cause      error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *GatewayError) Unwrap() error {
	return e.cause
}

// Is reports whether target carries the same kind. Causes are ignored so a
// wrapped rejection still matches its sentinel.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithCause returns a copy of e carrying cause. Sentinels are never mutated.
func (e *GatewayError) WithCause(cause error) *GatewayError {
	cp := *e
	cp.cause = cause
	return &cp
}

// Body returns the JSON body written to the client.
func (e *GatewayError) Body() map[string]interface{} {
	return map[string]interface{}{
		"code":    e.Code,
		"message": e.Message,
	}
}

func newRejection(kind Kind, code int, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message, HTTPStatus: http.StatusForbidden}
}

// ================================================================================
// Pipeline Rejections (HTTP 403)
// ================================================================================

var (
	ErrForbidden           = newRejection(KindForbidden, 40300, "access forbidden")
	ErrIPNotAllowed        = newRejection(KindIPNotAllowed, 40301, "ip address is not in the allow list")
	ErrMissingHeaders      = newRejection(KindMissingHeaders, 40302, "request headers are incomplete")
	ErrInvalidAccessKey    = newRejection(KindInvalidAccessKey, 40303, "invalid accessKey")
	ErrInvalidNonce        = newRejection(KindInvalidNonce, 40304, "invalid nonce")
	ErrTimestampExpired    = newRejection(KindTimestampExpired, 40305, "timestamp expired")
	ErrSignatureMismatch   = newRejection(KindSignatureMismatch, 40306, "signature verification failed")
	ErrRouteNotFound       = newRejection(KindRouteNotFound, 40307, "interface does not exist")
	ErrNoGrant             = newRejection(KindNoGrant, 40308, "no permission to invoke this interface")
	ErrQuotaExhausted      = newRejection(KindQuotaExhausted, 40309, "insufficient remaining invocations")
	ErrInsufficientBalance = newRejection(KindInsufficientBalance, 40310, "insufficient balance")
)

// ================================================================================
// Guard Rejections
// ================================================================================

var (
	// ErrRateLimited is raised by the guard when the request volume is exceeded.
	ErrRateLimited = &GatewayError{
		Kind:       KindRateLimited,
		Code:       http.StatusTooManyRequests,
		Message:    "system busy, please retry later",
		HTTPStatus: http.StatusTooManyRequests,
	}

	// ErrServiceDegraded is raised by the guard while the breaker is open.
	ErrServiceDegraded = &GatewayError{
		Kind:       KindServiceDegraded,
		Code:       http.StatusServiceUnavailable,
		Message:    "service temporarily unavailable, please retry later",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// GuardBody returns the fixed body used for guard rejections, which carries
// an explicit null data field unlike pipeline rejections.
func GuardBody(e *GatewayError) map[string]interface{} {
	return map[string]interface{}{
		"code":    e.Code,
		"message": e.Message,
		"data":    nil,
	}
}

// InternalErrorBody is written when a rejection body cannot be serialized.
const InternalErrorBody = `{"code":50000,"message":"internal server error"}`

// ================================================================================
// Origin Accounting Failures
// ================================================================================

var (
	// ErrNotFound means the route or user referenced by an accounting call does not exist.
	ErrNotFound = &GatewayError{Kind: KindNotFound, Code: 40400, Message: "record not found", HTTPStatus: http.StatusNotFound}

	// ErrSystem means the origin failed to persist the accounting update.
	ErrSystem = &GatewayError{Kind: KindSystem, Code: 50000, Message: "system error", HTTPStatus: http.StatusInternalServerError}
)

// AsGatewayError extracts a *GatewayError from err.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if stderrors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// ByKind returns the sentinel for kind, or nil when kind is unknown.
func ByKind(kind Kind) *GatewayError {
	for _, e := range []*GatewayError{
		ErrForbidden, ErrIPNotAllowed, ErrMissingHeaders, ErrInvalidAccessKey,
		ErrInvalidNonce, ErrTimestampExpired, ErrSignatureMismatch, ErrRouteNotFound,
		ErrNoGrant, ErrQuotaExhausted, ErrInsufficientBalance, ErrRateLimited,
		ErrServiceDegraded, ErrNotFound, ErrSystem,
	} {
		if e.Kind == kind {
			return e
		}
	}
	return nil
}
