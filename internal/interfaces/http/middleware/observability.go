package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/apigateway/pkg/constants"
)

// HTTPMetrics records one observation per served request.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
}

// ObservabilityMiddleware returns a Gin middleware that integrates Prometheus metrics and OpenTelemetry tracing.
// For each HTTP request, it starts a new server span and records request totals and duration.
// Proxied calls have no route template, so their path label is "proxy" to keep label cardinality bounded.
// ObservabilityMiddleware 返回一个集成了 Prometheus 指标和 OpenTelemetry 跟踪的 Gin 中间件。
// 对于每个 HTTP 请求，它会启动一个新的跟踪范围并记录请求总数和持续时间的指标。
func ObservabilityMiddleware(tracer trace.Tracer, metrics HTTPMetrics) gin.HandlerFunc {
	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

	return func(c *gin.Context) {
		start := time.Now()

		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+routeLabel(c), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = context.WithValue(ctx, constants.ContextKeyTraceID, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		path := routeLabel(c)
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.path", path),
			attribute.String("http.target", c.Request.URL.Path),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.String("http.client_ip", c.ClientIP()),
		)
	}
}

func routeLabel(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "proxy"
}
