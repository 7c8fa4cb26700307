package service

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/sign"
)

// Credentials is the signed header set carried by one proxied call.
type Credentials struct {
	Method    string
	AccessKey string
	Nonce     string
	Timestamp string
	Signature string

	// Body is the signing payload. It is ignored for GET, which signs "".
	Body string

	// HasBody distinguishes an absent body header from an empty one.
	HasBody bool
}

// SigningPayload returns the exact string the client signed.
func (c Credentials) SigningPayload() string {
	if strings.EqualFold(c.Method, http.MethodGet) {
		return ""
	}
	return c.Body
}

// ParseNonce parses a nonce made of decimal digits only. Signs and
// whitespace are rejected; leading zeros are allowed and do not change the value.
func ParseNonce(s string) (int64, error) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, fmt.Errorf("nonce %q is not a digit string", s)
	}
	return strconv.ParseInt(s, 10, 64)
}

// ValidatorOption customizes a CredentialValidator.
type ValidatorOption func(*CredentialValidator)

// WithClock replaces the wall clock, used by tests to pin "now".
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *CredentialValidator) {
		v.now = now
	}
}

// WithMaxNonce sets the exclusive upper bound for the nonce.
func WithMaxNonce(maxNonce int64) ValidatorOption {
	return func(v *CredentialValidator) {
		if maxNonce > 0 {
			v.maxNonce = maxNonce
		}
	}
}

// WithReplayWindow sets the accepted clock skew between client and gateway.
func WithReplayWindow(window time.Duration) ValidatorOption {
	return func(v *CredentialValidator) {
		if window > 0 {
			v.window = window
		}
	}
}

// CredentialValidator checks a signed request against a principal's secret.
// It holds no per-request state and is safe for concurrent use.
// CredentialValidator 校验签名请求，无状态且并发安全。
type CredentialValidator struct {
	signer   sign.Signer
	now      func() time.Time
	maxNonce int64
	window   time.Duration
}

// NewCredentialValidator creates a new CredentialValidator.
func NewCredentialValidator(signer sign.Signer, opts ...ValidatorOption) *CredentialValidator {
	v := &CredentialValidator{
		signer:   signer,
		now:      time.Now,
		maxNonce: constants.MaxNonce,
		window:   constants.ReplayWindow,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CheckPresence verifies every required header was supplied.
func (v *CredentialValidator) CheckPresence(c Credentials) error {
	if c.AccessKey == "" || c.Nonce == "" || c.Timestamp == "" || c.Signature == "" {
		return errors.ErrMissingHeaders
	}
	if !strings.EqualFold(c.Method, http.MethodGet) && !c.HasBody {
		return errors.ErrMissingHeaders
	}
	return nil
}

// Validate applies the credential rules in order and returns the first failure.
// A nil return means the request is authentic and fresh.
func (v *CredentialValidator) Validate(c Credentials, secretKey string) error {
	if err := v.CheckPresence(c); err != nil {
		return err
	}

	nonce, err := ParseNonce(c.Nonce)
	if err != nil {
		return errors.ErrInvalidNonce.WithCause(err)
	}
	if nonce >= v.maxNonce {
		return errors.ErrInvalidNonce
	}

	ts, err := strconv.ParseInt(c.Timestamp, 10, 64)
	if err != nil {
		return errors.ErrTimestampExpired.WithCause(err)
	}
	// Bounds are checked before any subtraction so extreme values cannot wrap.
	now := v.now().Unix()
	window := int64(v.window / time.Second)
	if ts <= now-window || ts >= now+window {
		return errors.ErrTimestampExpired
	}

	if !v.signer.Verify(c.SigningPayload(), secretKey, c.Signature) {
		return errors.ErrSignatureMismatch
	}
	return nil
}
