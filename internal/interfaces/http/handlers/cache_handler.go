package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/apigateway/internal/infrastructure/cache"
	"github.com/turtacn/apigateway/pkg/logger"
)

// CacheHandler exposes the administrative cache operations.
type CacheHandler struct {
	cache *cache.Manager
	log   logger.Logger
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(m *cache.Manager, log logger.Logger) *CacheHandler {
	return &CacheHandler{cache: m, log: log}
}

// Stats godoc
// @Summary      Cache statistics
// @Description  Per-entity size, hit rate and evictions of the local tier.
// @Tags         cache
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /admin/cache/stats [get]
func (h *CacheHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"distributed": h.cache.DistributedEnabled(),
		"entities":    h.cache.Stats(),
	})
}

// Clear godoc
// @Summary      Clear all cache tiers
// @Tags         cache
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /admin/cache [delete]
func (h *CacheHandler) Clear(c *gin.Context) {
	removed, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		h.log.Error(c.Request.Context(), "Cache clear failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"cleared":                  false,
			"distributed_keys_removed": removed,
			"error":                    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true, "distributed_keys_removed": removed})
}

// Evict godoc
// @Summary      Evict one entry
// @Description  Key is the natural key: accessKey, fullUrl:METHOD, or userId:interfaceId.
// @Tags         cache
// @Produce      json
// @Param        type  path  string  true  "user | interface | user_interface"
// @Param        key   path  string  true  "natural key"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Router       /admin/cache/{type}/{key} [delete]
func (h *CacheHandler) Evict(c *gin.Context) {
	entity, err := cache.ParseEntityType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	natural := strings.TrimPrefix(c.Param("key"), "/")
	if natural == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cache key is required"})
		return
	}

	key := entity.Prefix() + natural
	if err := h.cache.Evict(c.Request.Context(), entity, key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"evicted": false, "key": key, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": true, "key": key})
}
