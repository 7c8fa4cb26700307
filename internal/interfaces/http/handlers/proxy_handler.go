package handlers

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/logger"
)

type upstreamStateKey struct{}

// upstreamState records the first failure of one proxied call.
type upstreamState struct {
	mu  sync.Mutex
	err error
}

func (s *upstreamState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *upstreamState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func stateFrom(ctx context.Context) *upstreamState {
	s, _ := ctx.Value(upstreamStateKey{}).(*upstreamState)
	return s
}

// trackedBody reports a failed upstream body read to its upstreamState.
type trackedBody struct {
	io.ReadCloser
	state *upstreamState
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF && b.state != nil {
		b.state.fail(err)
	}
	return n, err
}

// ProxyHandler forwards authorized calls to the upstream service.
type ProxyHandler struct {
	proxy   *httputil.ReverseProxy
	timeout time.Duration
	log     logger.Logger
}

// NewProxyHandler creates a reverse proxy to upstream. timeout bounds the
// whole upstream exchange, including reading the body.
func NewProxyHandler(upstream string, timeout time.Duration, log logger.Logger) (*ProxyHandler, error) {
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", upstream)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &ProxyHandler{timeout: timeout, log: log.WithComponent("proxy")}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
		ModifyResponse: func(res *http.Response) error {
			res.Body = &trackedBody{ReadCloser: res.Body, state: stateFrom(res.Request.Context())}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if s := stateFrom(r.Context()); s != nil {
				s.fail(err)
			}
			h.log.Warn(r.Context(), "Upstream call failed",
				logger.String("path", r.URL.Path),
				logger.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return h, nil
}

// Handle forwards the request. The upstream exchange is detached from the
// client's cancellation so that a completed upstream response is still
// accounted for after the client hangs up.
func (h *ProxyHandler) Handle(c *gin.Context) {
	state := &upstreamState{}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, upstreamStateKey{}, state)

	h.proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))

	if err := state.Err(); err != nil {
		c.Set(constants.GinKeyUpstreamError, err)
	}
}
