// Package apiclient is the Go client for calling interfaces through the
// gateway. It attaches the signed credential headers to every request.
// apiclient 为经网关调用接口的 Go 客户端，为每个请求附加签名凭证请求头。
package apiclient

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/sign"
)

// Client signs and sends calls to a gateway.
type Client struct {
	gatewayURL string
	accessKey  string
	secretKey  string
	signer     sign.Signer
	http       *http.Client
	now        func() time.Time
	nonce      func() int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSigner selects the digest. It must match the gateway's sign_algorithm.
func WithSigner(s sign.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithClock pins the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithNonce replaces the nonce source. Values must stay below the gateway's max_nonce.
func WithNonce(nonce func() int64) Option {
	return func(c *Client) { c.nonce = nonce }
}

// New creates a Client for gatewayURL using the caller's key pair.
func New(gatewayURL, accessKey, secretKey string, opts ...Option) *Client {
	c := &Client{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		accessKey:  accessKey,
		secretKey:  secretKey,
		signer:     sign.MustNew(constants.SignAlgorithmMD5),
		http:       &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		nonce:      func() int64 { return rand.Int64N(constants.MaxNonce) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Headers returns the credential headers for one call. body is ignored for GET.
func (c *Client) Headers(method, body string) http.Header {
	payload := body
	if strings.EqualFold(method, http.MethodGet) {
		payload = ""
	}

	h := make(http.Header)
	h.Set(constants.HeaderAccessKey, c.accessKey)
	h.Set(constants.HeaderNonce, strconv.FormatInt(c.nonce(), 10))
	h.Set(constants.HeaderTimestamp, strconv.FormatInt(c.now().Unix(), 10))
	h.Set(constants.HeaderSign, c.signer.Sign(payload, c.secretKey))
	if !strings.EqualFold(method, http.MethodGet) {
		h.Set(constants.HeaderBody, body)
	}
	return h
}

// Get calls path with query.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	target := c.gatewayURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, target, "", "")
}

// PostJSON calls path with body as the JSON payload.
func (c *Client) PostJSON(ctx context.Context, path, body string) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, c.gatewayURL+path, body, "application/json; charset=utf-8")
}

func (c *Client) do(ctx context.Context, method, target, body, contentType string) (*http.Response, error) {
	var reader io.Reader
	if method != http.MethodGet {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.Headers(method, body) {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}
