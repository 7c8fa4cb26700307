package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/httpclient"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// OriginHandler serves the inner endpoints the gateways resolve records
// and record usage through. 404 means absent.
// OriginHandler 提供网关调用的内部接口：查询用户、接口、授权关系，以及调用计数。
type OriginHandler struct {
	origin service.OriginClient
	log    logger.Logger
}

// NewOriginHandler creates a new OriginHandler.
func NewOriginHandler(origin service.OriginClient, log logger.Logger) *OriginHandler {
	return &OriginHandler{origin: origin, log: log}
}

// Register mounts the inner endpoints on r.
func (h *OriginHandler) Register(r gin.IRoutes) {
	r.GET(httpclient.PathUser, h.GetUser)
	r.GET(httpclient.PathInterface, h.GetInterface)
	r.GET(httpclient.PathUserInterface, h.GetUserInterface)
	r.POST(httpclient.PathInvoke, h.Invoke)
}

// GetUser handles GET /inner/user?accessKey=.
func (h *OriginHandler) GetUser(c *gin.Context) {
	accessKey := c.Query("accessKey")
	if accessKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accessKey is required"})
		return
	}
	user, err := h.origin.ResolveUserByAccessKey(c.Request.Context(), accessKey)
	h.respond(c, user, user == nil, err)
}

// GetInterface handles GET /inner/interface?url=&method=.
func (h *OriginHandler) GetInterface(c *gin.Context) {
	fullURL, method := c.Query("url"), c.Query("method")
	if fullURL == "" || method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url and method are required"})
		return
	}
	route, err := h.origin.ResolveRoute(c.Request.Context(), fullURL, method)
	h.respond(c, route, route == nil, err)
}

// GetUserInterface handles GET /inner/user-interface?interfaceId=&userId=.
func (h *OriginHandler) GetUserInterface(c *gin.Context) {
	interfaceID, err1 := strconv.ParseInt(c.Query("interfaceId"), 10, 64)
	userID, err2 := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interfaceId and userId must be integers"})
		return
	}
	quota, err := h.origin.ResolveQuota(c.Request.Context(), interfaceID, userID)
	h.respond(c, quota, quota == nil, err)
}

// Invoke handles POST /inner/user-interface/invoke.
func (h *OriginHandler) Invoke(c *gin.Context) {
	var req httpclient.InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.origin.RecordInvocation(c.Request.Context(), req.InterfaceID, req.UserID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"recorded": true})
		return
	}

	ge, ok := errors.AsGatewayError(err)
	if !ok {
		ge = errors.ErrSystem.WithCause(err)
	}
	status := http.StatusInternalServerError
	switch ge.Kind {
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindNoGrant:
		status = http.StatusForbidden
	case errors.KindQuotaExhausted:
		status = http.StatusConflict
	default:
		h.log.Error(c.Request.Context(), "Invocation accounting failed", err)
	}
	c.JSON(status, ge.Body())
}

func (h *OriginHandler) respond(c *gin.Context, value interface{}, absent bool, err error) {
	if err != nil {
		h.log.Error(c.Request.Context(), "Origin lookup failed", err, logger.String("path", c.Request.URL.Path))
		c.JSON(http.StatusInternalServerError, errors.ErrSystem.Body())
		return
	}
	if absent {
		c.JSON(http.StatusNotFound, errors.ErrNotFound.Body())
		return
	}
	c.JSON(http.StatusOK, value)
}
