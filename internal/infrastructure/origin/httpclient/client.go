// Package httpclient implements the origin contract against the origin
// service's inner HTTP/JSON endpoints.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// Inner endpoint paths served by the origin.
const (
	PathUser          = "/inner/user"
	PathInterface     = "/inner/interface"
	PathUserInterface = "/inner/user-interface"
	PathInvoke        = "/inner/user-interface/invoke"
)

// InvokeRequest is the body of an accounting call.
type InvokeRequest struct {
	InterfaceID int64 `json:"interfaceId"`
	UserID      int64 `json:"userId"`
}

var _ service.OriginClient = (*Client)(nil)

// Client calls the origin over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client from the origin config section.
func New(cfg config.OriginConfig, log logger.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log.WithComponent("origin-http"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveUserByAccessKey calls GET /inner/user.
func (c *Client) ResolveUserByAccessKey(ctx context.Context, accessKey string) (*models.Principal, error) {
	var p models.Principal
	found, err := c.get(ctx, PathUser, url.Values{"accessKey": {accessKey}}, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// ResolveRoute calls GET /inner/interface.
func (c *Client) ResolveRoute(ctx context.Context, fullURL, method string) (*models.RouteDescriptor, error) {
	var r models.RouteDescriptor
	found, err := c.get(ctx, PathInterface, url.Values{"url": {fullURL}, "method": {method}}, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// ResolveQuota calls GET /inner/user-interface.
func (c *Client) ResolveQuota(ctx context.Context, interfaceID, userID int64) (*models.QuotaRelation, error) {
	var q models.QuotaRelation
	query := url.Values{
		"interfaceId": {strconv.FormatInt(interfaceID, 10)},
		"userId":      {strconv.FormatInt(userID, 10)},
	}
	found, err := c.get(ctx, PathUserInterface, query, &q)
	if err != nil || !found {
		return nil, err
	}
	return &q, nil
}

// RecordInvocation calls POST /inner/user-interface/invoke.
func (c *Client) RecordInvocation(ctx context.Context, interfaceID, userID int64) error {
	payload, err := json.Marshal(InvokeRequest{InterfaceID: interfaceID, UserID: userID})
	if err != nil {
		return errors.ErrSystem.WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathInvoke, bytes.NewReader(payload))
	if err != nil {
		return errors.ErrSystem.WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.ErrSystem.WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return errors.ErrNotFound
	case http.StatusForbidden:
		return errors.ErrNoGrant
	case http.StatusConflict:
		return errors.ErrQuotaExhausted
	default:
		return errors.ErrSystem.WithCause(fmt.Errorf("origin returned status %d", resp.StatusCode))
	}
}

// get decodes a 200 response into dst and reports false on 404.
func (c *Client) get(ctx context.Context, path string, query url.Values, dst interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "Origin request failed", logger.String("path", path), logger.String("error", err.Error()))
		return false, fmt.Errorf("origin %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return false, fmt.Errorf("origin %s: decode response: %w", path, err)
		}
		return true, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("origin %s: unexpected status %d", path, resp.StatusCode)
	}
}

// Ping calls the origin's liveness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/live", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("origin liveness returned status %d", resp.StatusCode)
	}
	return nil
}
