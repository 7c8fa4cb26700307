package middleware

import (
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/apigateway/internal/application/lookup"
	"github.com/turtacn/apigateway/internal/application/usage"
	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/internal/infrastructure/cache"
	"github.com/turtacn/apigateway/internal/infrastructure/replay"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// ResultForwarded labels a request that passed every stage.
const ResultForwarded = "forwarded"

// PipelineMetrics records the outcome of each gateway decision.
type PipelineMetrics interface {
	RecordPipeline(result string, duration time.Duration)
}

type noopPipelineMetrics struct{}

func (noopPipelineMetrics) RecordPipeline(string, time.Duration) {}

// RequestContext is the per-call state built by the pipeline. It lives in
// the gin context of one request and is never shared.
type RequestContext struct {
	Credentials service.Credentials
	FullURL     string
	Principal   *models.Principal
	Route       *models.RouteDescriptor
	Quota       *models.QuotaRelation
}

// Gateway authorizes proxied calls and triggers usage accounting for the
// ones that complete.
// Gateway 按顺序执行：IP 白名单 → 请求头提取 → 用户解析 → 签名校验 → 接口解析 → 配额校验 → 转发 → 响应拦截。
type Gateway struct {
	host      string
	allowList *config.AllowList
	lookup    *lookup.Facade
	validator *service.CredentialValidator
	recorder  *usage.Recorder
	nonces    *replay.NonceGuard
	metrics   PipelineMetrics
	logger    logger.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithNonceGuard rejects a (accessKey, nonce) pair seen within the replay window.
func WithNonceGuard(g *replay.NonceGuard) GatewayOption {
	return func(gw *Gateway) { gw.nonces = g }
}

// WithPipelineMetrics sets the decision recorder.
func WithPipelineMetrics(m PipelineMetrics) GatewayOption {
	return func(gw *Gateway) {
		if m != nil {
			gw.metrics = m
		}
	}
}

// NewGateway creates the pipeline. host is the public gateway origin that
// request paths are appended to when resolving routes.
func NewGateway(
	host string,
	allowList *config.AllowList,
	facade *lookup.Facade,
	validator *service.CredentialValidator,
	recorder *usage.Recorder,
	log logger.Logger,
	opts ...GatewayOption,
) *Gateway {
	gw := &Gateway{
		host:      host,
		allowList: allowList,
		lookup:    facade,
		validator: validator,
		recorder:  recorder,
		metrics:   noopPipelineMetrics{},
		logger:    log.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(gw)
	}
	return gw
}

// Handler returns the pipeline as a gin middleware. Handlers after it in the
// chain perform the upstream call.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rc, err := g.authorize(c)
		if err != nil {
			g.reject(c, err, start)
			return
		}
		c.Set(constants.GinKeyRequestContext, rc)

		requestID, _ := c.Request.Context().Value(constants.ContextKeyRequestID).(string)
		trigger := g.recorder.Trigger(c.Request.Context(), models.UsageEvent{
			RequestID:   requestID,
			InterfaceID: rc.Route.ID,
			UserID:      rc.Principal.ID,
		})
		w := NewUsageWriter(c.Writer, trigger)
		c.Writer = w

		c.Next()

		_, upstreamFailed := c.Get(constants.GinKeyUpstreamError)
		accounted := w.Complete(upstreamFailed)
		g.metrics.RecordPipeline(ResultForwarded, time.Since(start))
		g.logger.Debug(c.Request.Context(), "Request forwarded",
			logger.String("url", rc.FullURL),
			logger.Int("status", w.Status()),
			logger.Bool("accounted", accounted),
			logger.Bool("client_gone", w.ClientGone()),
		)
	}
}

func (g *Gateway) authorize(c *gin.Context) (*RequestContext, error) {
	ctx := c.Request.Context()

	if !g.allowList.Contains(c.RemoteIP()) {
		return nil, errors.ErrIPNotAllowed
	}

	rc := &RequestContext{Credentials: extractCredentials(c.Request)}
	if err := g.validator.CheckPresence(rc.Credentials); err != nil {
		return nil, err
	}

	user := g.lookup.User(ctx, rc.Credentials.AccessKey)
	if !user.Found() {
		g.logLookupError(c, "user", user.Outcome, user.Err)
		return nil, errors.ErrInvalidAccessKey
	}
	rc.Principal = user.Value

	if err := g.validator.Validate(rc.Credentials, rc.Principal.SecretKey); err != nil {
		return nil, err
	}
	if g.nonces != nil {
		nonce, err := service.ParseNonce(rc.Credentials.Nonce)
		if err != nil || !g.nonces.Remember(rc.Credentials.AccessKey, nonce) {
			return nil, errors.ErrInvalidNonce
		}
	}

	rc.FullURL = models.FullURL(g.host, c.Request.URL.Path)
	route := g.lookup.Route(ctx, rc.FullURL, c.Request.Method)
	if !route.Found() {
		g.logLookupError(c, "interface", route.Outcome, route.Err)
		return nil, errors.ErrRouteNotFound
	}
	rc.Route = route.Value

	quota := g.lookup.Quota(ctx, rc.Principal.ID, rc.Route.ID)
	if !quota.Found() {
		g.logLookupError(c, "user_interface", quota.Outcome, quota.Err)
		return nil, errors.ErrNoGrant
	}
	if quota.Value.Exhausted() {
		return nil, errors.ErrQuotaExhausted
	}
	rc.Quota = quota.Value

	return rc, nil
}

func (g *Gateway) reject(c *gin.Context, err error, start time.Time) {
	ge, ok := errors.AsGatewayError(err)
	if !ok {
		ge = errors.ErrForbidden.WithCause(err)
	}
	g.metrics.RecordPipeline(string(ge.Kind), time.Since(start))
	g.logger.Info(c.Request.Context(), "Request rejected",
		logger.String("reason", string(ge.Kind)),
		logger.String("remote_ip", c.RemoteIP()),
		logger.String("method", c.Request.Method),
		logger.String("path", c.Request.URL.Path),
	)
	writeJSON(c, ge.HTTPStatus, ge.Body())
	c.Abort()
}

func (g *Gateway) logLookupError(c *gin.Context, entity string, outcome cache.Outcome, err error) {
	if outcome != cache.OutcomeError {
		return
	}
	g.logger.Warn(c.Request.Context(), "Origin lookup failed, rejecting request",
		logger.String("entity", entity),
		logger.String("error", err.Error()),
	)
}

func extractCredentials(r *http.Request) service.Credentials {
	bodyValues := r.Header.Values(constants.HeaderBody)
	cred := service.Credentials{
		Method:    r.Method,
		AccessKey: r.Header.Get(constants.HeaderAccessKey),
		Nonce:     r.Header.Get(constants.HeaderNonce),
		Timestamp: r.Header.Get(constants.HeaderTimestamp),
		Signature: r.Header.Get(constants.HeaderSign),
		HasBody:   len(bodyValues) > 0,
	}
	if cred.HasBody {
		cred.Body = decodeHeaderBody(bodyValues[0])
	}
	return cred
}

// decodeHeaderBody undoes a Latin-1 decoding applied to UTF-8 header bytes
// by an intermediary. Values that cannot be such a decoding are returned as-is.
func decodeHeaderBody(raw string) string {
	b := make([]byte, 0, len(raw))
	for _, r := range raw {
		if r > 0xFF {
			return raw
		}
		b = append(b, byte(r))
	}
	if !utf8.Valid(b) {
		return raw
	}
	return string(b)
}

// writeJSON writes body, falling back to a fixed 500 if it cannot be encoded.
func writeJSON(c *gin.Context, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/json; charset=utf-8", []byte(errors.InternalErrorBody))
		return
	}
	c.Data(status, "application/json; charset=utf-8", payload)
}
