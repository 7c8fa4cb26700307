package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/apigateway/internal/infrastructure/guard"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// GuardMiddleware admits requests through the rate and circuit guard. A
// rejected request gets the fixed 429 or 503 body and never reaches the
// pipeline. Admitted requests report failure when the final status is 5xx.
func GuardMiddleware(g *guard.Guard, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		done, err := g.Acquire()
		if err != nil {
			ge, ok := errors.AsGatewayError(err)
			if !ok {
				ge = errors.ErrServiceDegraded
			}
			log.Warn(c.Request.Context(), "Request rejected by guard",
				logger.String("reason", string(ge.Kind)),
				logger.String("path", c.Request.URL.Path),
			)
			writeJSON(c, ge.HTTPStatus, errors.GuardBody(ge))
			c.Abort()
			return
		}

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				done(true, time.Since(start))
				panic(r)
			}
		}()

		c.Next()
		done(c.Writer.Status() >= http.StatusInternalServerError, time.Since(start))
	}
}
