// Package constants defines system-wide constants for the API gateway.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Credential Header Constants
// ================================================================================

const (
	// HeaderAccessKey carries the caller's public access key
	HeaderAccessKey = "accessKey"

	// HeaderNonce carries the per-request anti-replay token
	HeaderNonce = "nonce"

	// HeaderTimestamp carries the request time in unix seconds
	HeaderTimestamp = "timestamp"

	// HeaderSign carries the hex digest of the signing payload
	HeaderSign = "sign"

	// HeaderBody carries the signing payload for non-GET methods
	HeaderBody = "body"

	// HeaderRequestID is the correlation header echoed back to the caller
	HeaderRequestID = "X-Request-ID"
)

// ================================================================================
// Credential Validation Limits
// ================================================================================

const (
	// MaxNonce is the exclusive upper bound of an accepted nonce
	MaxNonce int64 = 10000

	// ReplayWindow is the maximum accepted distance between request time and server time
	ReplayWindow = 2 * time.Minute

	// SignSeparator joins body and secret key in the signing payload
	SignSeparator = "."
)

// SignAlgorithm names the digest primitive used for request signatures
type SignAlgorithm string

const (
	// SignAlgorithmMD5 is the digest used by the marketplace client SDK
	SignAlgorithmMD5 SignAlgorithm = "md5"

	// SignAlgorithmSHA256 is the stronger alternative digest
	SignAlgorithmSHA256 SignAlgorithm = "sha256"
)

// ================================================================================
// Cache Key Constants
// ================================================================================

const (
	// CacheKeyPrefixUser prefixes principal entries, followed by the access key
	CacheKeyPrefixUser = "gateway:user:"

	// CacheKeyPrefixInterface prefixes route entries, followed by fullUrl:method
	CacheKeyPrefixInterface = "gateway:interface:"

	// CacheKeyPrefixUserInterface prefixes quota entries, followed by userId:interfaceId
	CacheKeyPrefixUserInterface = "gateway:user_interface:"
)

// ================================================================================
// Quota Constants
// ================================================================================

const (
	// UnlimitedCalls marks a quota relation that is never decremented
	UnlimitedCalls int64 = -1
)

// RouteStatus is the publication status of a registered interface
type RouteStatus int

const (
	// RouteStatusOffline marks an interface that is registered but not published
	RouteStatusOffline RouteStatus = 0

	// RouteStatusOnline marks a published interface
	RouteStatusOnline RouteStatus = 1
)

// ================================================================================
// Guard Constants
// ================================================================================

const (
	// GuardResourceName identifies the protected gateway filter in metrics and logs
	GuardResourceName = "api-gateway-filter"

	// DefaultGuardQPS mirrors the global flow rule of 100 requests per second
	DefaultGuardQPS = 100

	// DefaultGuardErrorRatio opens the breaker once half the calls fail
	DefaultGuardErrorRatio = 0.5

	// DefaultGuardSlowCallThreshold classifies a call as slow
	DefaultGuardSlowCallThreshold = 2 * time.Second

	// DefaultGuardSlowCallRatio opens the breaker once half the calls are slow
	DefaultGuardSlowCallRatio = 0.5

	// DefaultGuardOpenDuration is how long the breaker stays open
	DefaultGuardOpenDuration = 10 * time.Second

	// DefaultGuardMinRequests is the minimum volume before the breaker may trip
	DefaultGuardMinRequests = 5
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel string

const (
	// LogLevelDebug is the most verbose logging level
	LogLevelDebug LogLevel = "debug"

	// LogLevelInfo is the standard informational logging level
	LogLevelInfo LogLevel = "info"

	// LogLevelWarn indicates potential issues
	LogLevelWarn LogLevel = "warn"

	// LogLevelError indicates errors that need attention
	LogLevelError LogLevel = "error"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyLogger is the key for a request-scoped logger
	ContextKeyLogger ContextKey = "logger"
)

// Gin context keys set by the gateway chain
const (
	// GinKeyRequestContext holds the *middleware.RequestContext of an authorized call
	GinKeyRequestContext = "gateway.request_context"

	// GinKeyUpstreamError is set by the proxy when the upstream call or body read failed
	GinKeyUpstreamError = "gateway.upstream_error"
)
