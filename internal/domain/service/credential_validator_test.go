package service

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/sign"
)

const testSecret = "sk-test"

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestValidator(t *testing.T) (*CredentialValidator, sign.Signer) {
	t.Helper()
	signer := sign.MustNew(constants.SignAlgorithmMD5)
	return NewCredentialValidator(signer, WithClock(func() time.Time { return fixedNow })), signer
}

func validGet(signer sign.Signer) Credentials {
	return Credentials{
		Method:    "GET",
		AccessKey: "k1",
		Nonce:     "42",
		Timestamp: strconv.FormatInt(fixedNow.Unix(), 10),
		Signature: signer.Sign("", testSecret),
	}
}

func TestCredentialValidator_ValidGet(t *testing.T) {
	v, signer := newTestValidator(t)
	assert.NoError(t, v.Validate(validGet(signer), testSecret))
}

func TestCredentialValidator_GetIgnoresBodyHeader(t *testing.T) {
	v, signer := newTestValidator(t)
	c := validGet(signer)
	c.Body = "ignored"
	c.HasBody = true
	assert.NoError(t, v.Validate(c, testSecret))
}

func TestCredentialValidator_Post(t *testing.T) {
	v, signer := newTestValidator(t)
	c := validGet(signer)
	c.Method = "POST"
	c.Body = `{"city":"北京"}`
	c.HasBody = true
	c.Signature = signer.Sign(c.Body, testSecret)
	require.NoError(t, v.Validate(c, testSecret))

	c.Body = `{"city":"上海"}`
	assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrSignatureMismatch)
}

func TestCredentialValidator_MissingHeaders(t *testing.T) {
	v, signer := newTestValidator(t)

	tests := []struct {
		name   string
		mutate func(*Credentials)
	}{
		{"no access key", func(c *Credentials) { c.AccessKey = "" }},
		{"no nonce", func(c *Credentials) { c.Nonce = "" }},
		{"no timestamp", func(c *Credentials) { c.Timestamp = "" }},
		{"no sign", func(c *Credentials) { c.Signature = "" }},
		{"post without body", func(c *Credentials) { c.Method = "POST"; c.HasBody = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validGet(signer)
			tt.mutate(&c)
			assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrMissingHeaders)
		})
	}
}

func TestCredentialValidator_PostWithEmptyBodyIsPresent(t *testing.T) {
	v, signer := newTestValidator(t)
	c := validGet(signer)
	c.Method = "POST"
	c.HasBody = true
	assert.NoError(t, v.CheckPresence(c))
	assert.NoError(t, v.Validate(c, testSecret))
}

func TestCredentialValidator_NonceBound(t *testing.T) {
	v, signer := newTestValidator(t)

	for _, n := range []string{"0", "42", "9999"} {
		c := validGet(signer)
		c.Nonce = n
		assert.NoError(t, v.Validate(c, testSecret), "nonce %s", n)
	}
	for _, n := range []string{"10000", "10042", "999999", "abc", "-5", "+42", " 7", "0x1"} {
		c := validGet(signer)
		c.Nonce = n
		assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrInvalidNonce, "nonce %s", n)
	}
}

func TestCredentialValidator_TimestampWindow(t *testing.T) {
	v, signer := newTestValidator(t)

	tests := []struct {
		offset int64
		ok     bool
	}{
		{0, true},
		{-119, true},
		{119, true},
		{-120, false},
		{120, false},
		{-3600, false},
	}
	for _, tt := range tests {
		c := validGet(signer)
		c.Timestamp = strconv.FormatInt(fixedNow.Unix()+tt.offset, 10)
		err := v.Validate(c, testSecret)
		if tt.ok {
			assert.NoError(t, err, "offset %d", tt.offset)
		} else {
			assert.ErrorIs(t, err, errors.ErrTimestampExpired, "offset %d", tt.offset)
		}
	}

	for _, ts := range []int64{math.MinInt64 + fixedNow.Unix(), math.MinInt64, math.MaxInt64} {
		c := validGet(signer)
		c.Timestamp = strconv.FormatInt(ts, 10)
		assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrTimestampExpired, "timestamp %d", ts)
	}

	c := validGet(signer)
	c.Timestamp = "yesterday"
	assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrTimestampExpired)
}

func TestCredentialValidator_RuleOrder(t *testing.T) {
	v, signer := newTestValidator(t)
	c := validGet(signer)
	c.Nonce = "10042"
	c.Timestamp = "0"
	c.Signature = "bad"
	assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrInvalidNonce)

	c.Nonce = "1"
	assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrTimestampExpired)
}

func TestCredentialValidator_WrongSecret(t *testing.T) {
	v, signer := newTestValidator(t)
	assert.ErrorIs(t, v.Validate(validGet(signer), "other"), errors.ErrSignatureMismatch)
}

func TestCredentialValidator_Options(t *testing.T) {
	signer := sign.MustNew(constants.SignAlgorithmSHA256)
	v := NewCredentialValidator(signer,
		WithClock(func() time.Time { return fixedNow }),
		WithMaxNonce(100),
		WithReplayWindow(10*time.Second),
	)
	c := validGet(signer)
	c.Nonce = "100"
	assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrInvalidNonce)

	c.Nonce = "99"
	c.Timestamp = strconv.FormatInt(fixedNow.Unix()-10, 10)
	assert.ErrorIs(t, v.Validate(c, testSecret), errors.ErrTimestampExpired)
}

func TestParseNonce(t *testing.T) {
	n, err := ParseNonce("07")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	for _, s := range []string{"", "-5", "+42", " 7", "7a"} {
		_, err := ParseNonce(s)
		assert.Error(t, err, "nonce %q", s)
	}
}
