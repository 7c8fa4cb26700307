package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/infrastructure/cache"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/httpclient"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/store"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthHandler(t *testing.T) {
	healthy := NewHealthHandler(map[string]Checker{
		"redis":  func(context.Context) error { return nil },
		"origin": func(context.Context) error { return nil },
	}, logger.NewNoopLogger())
	failing := NewHealthHandler(map[string]Checker{
		"redis": func(context.Context) error { return stderrors.New("connection refused") },
	}, logger.NewNoopLogger())

	router := gin.New()
	router.GET("/health", healthy.HealthCheck)
	router.GET("/ready", failing.ReadinessCheck)
	router.GET("/live", failing.LivenessCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, map[string]string{"redis": "ok", "origin": "ok"}, body.Checks)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func newCacheRouter(t *testing.T) (*gin.Engine, *cache.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	m, err := cache.NewManager(cache.DefaultPolicies(), logger.NewNoopLogger(), cache.WithDistributedTier(client))
	require.NoError(t, err)

	h := NewCacheHandler(m, logger.NewNoopLogger())
	router := gin.New()
	router.GET("/admin/cache/stats", h.Stats)
	router.DELETE("/admin/cache", h.Clear)
	router.DELETE("/admin/cache/:type/*key", h.Evict)
	return router, m, mr
}

func TestCacheHandler_StatsAndClear(t *testing.T) {
	router, m, mr := newCacheRouter(t)
	ctx := context.Background()
	cache.Put(ctx, m, cache.EntityUser, "gateway:user:k1", &models.Principal{ID: 1, AccessKey: "k1"})
	cache.Put(ctx, m, cache.EntityUserInterface, "gateway:user_interface:1:3", &models.QuotaRelation{ID: 1})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Distributed bool                `json:"distributed"`
		Entities    []cache.EntityStats `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.True(t, stats.Distributed)
	require.Len(t, stats.Entities, 3)
	assert.Equal(t, cache.EntityUser, stats.Entities[0].Entity)
	assert.Equal(t, 1, stats.Entities[0].Size)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/cache", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cleared":true,"distributed_keys_removed":2}`, w.Body.String())
	assert.False(t, mr.Exists("gateway:user:k1"))
}

func TestCacheHandler_Evict(t *testing.T) {
	router, m, mr := newCacheRouter(t)
	ctx := context.Background()
	key := "gateway:user_interface:7:3"
	cache.Put(ctx, m, cache.EntityUserInterface, key, &models.QuotaRelation{ID: 1, UserID: 7, InterfaceID: 3})
	require.True(t, mr.Exists(key))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/cache/user_interface/7:3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"evicted":true,"key":"gateway:user_interface:7:3"}`, w.Body.String())
	assert.False(t, mr.Exists(key))
	assert.Equal(t, 0, m.Stats()[2].Size)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/cache/device/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/cache/user/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyHandler_ForwardsUnchanged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.Header().Set("X-Upstream-Query", r.URL.RawQuery)
		w.Header().Set("X-Access-Key", r.Header.Get(constants.HeaderAccessKey))
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, "echo:%s", body)
	}))
	defer upstream.Close()

	h, err := NewProxyHandler(upstream.URL, time.Second, logger.NewNoopLogger())
	require.NoError(t, err)

	var upstreamErr bool
	router := gin.New()
	router.NoRoute(h.Handle, func(c *gin.Context) {
		_, upstreamErr = c.Get(constants.GinKeyUpstreamError)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/name/user?x=1", strings.NewReader(`{"username":"bob"}`))
	req.Header.Set(constants.HeaderAccessKey, "k1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `echo:{"username":"bob"}`, w.Body.String())
	assert.Equal(t, "/api/name/user", w.Header().Get("X-Upstream-Path"))
	assert.Equal(t, "x=1", w.Header().Get("X-Upstream-Query"))
	assert.Equal(t, "k1", w.Header().Get("X-Access-Key"))
	assert.False(t, upstreamErr)
}

func TestProxyHandler_UpstreamDown(t *testing.T) {
	h, err := NewProxyHandler("http://127.0.0.1:1", time.Second, logger.NewNoopLogger())
	require.NoError(t, err)

	var upstreamErr bool
	router := gin.New()
	router.NoRoute(h.Handle, func(c *gin.Context) {
		_, upstreamErr = c.Get(constants.GinKeyUpstreamError)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/name", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.True(t, upstreamErr)
}

func TestNewProxyHandler_InvalidURL(t *testing.T) {
	_, err := NewProxyHandler("not a url", time.Second, logger.NewNoopLogger())
	assert.Error(t, err)
}

func newOriginServer(t *testing.T) (*store.Store, *httpclient.Client) {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	s := store.New(db, logger.NewNoopLogger())
	require.NoError(t, s.Migrate(context.Background()))

	router := gin.New()
	NewOriginHandler(s, logger.NewNoopLogger()).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	return s, httpclient.New(config.OriginConfig{BaseURL: srv.URL, Timeout: time.Second}, logger.NewNoopLogger())
}

func TestOriginHandler_RoundTripThroughHTTPClient(t *testing.T) {
	s, client := newOriginServer(t)
	ctx := context.Background()

	user := &models.Principal{AccessKey: "k1", SecretKey: "sk"}
	require.NoError(t, s.SavePrincipal(ctx, user))
	route := &models.RouteDescriptor{URL: "http://localhost:8123/api/name", Method: "GET"}
	require.NoError(t, s.SaveRoute(ctx, route))
	require.NoError(t, s.SaveQuota(ctx, &models.QuotaRelation{UserID: user.ID, InterfaceID: route.ID, RemainingCalls: 1}))

	got, err := client.ResolveUserByAccessKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sk", got.SecretKey)

	missing, err := client.ResolveUserByAccessKey(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	gotRoute, err := client.ResolveRoute(ctx, "http://localhost:8123/api/name", "GET")
	require.NoError(t, err)
	require.NotNil(t, gotRoute)
	assert.Equal(t, route.ID, gotRoute.ID)

	quota, err := client.ResolveQuota(ctx, route.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, quota)
	assert.EqualValues(t, 1, quota.RemainingCalls)

	require.NoError(t, client.RecordInvocation(ctx, route.ID, user.ID))
	assert.ErrorIs(t, client.RecordInvocation(ctx, route.ID, user.ID), errors.ErrQuotaExhausted)
	assert.ErrorIs(t, client.RecordInvocation(ctx, route.ID+10, user.ID), errors.ErrNotFound)

	other := &models.Principal{AccessKey: "k2", SecretKey: "sk2"}
	require.NoError(t, s.SavePrincipal(ctx, other))
	assert.ErrorIs(t, client.RecordInvocation(ctx, route.ID, other.ID), errors.ErrNoGrant)
}

func TestOriginHandler_BadRequests(t *testing.T) {
	db, err := store.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	})
	require.NoError(t, err)
	s := store.New(db, logger.NewNoopLogger())
	require.NoError(t, s.Migrate(context.Background()))

	router := gin.New()
	NewOriginHandler(s, logger.NewNoopLogger()).Register(router)

	for _, target := range []string{
		"/inner/user",
		"/inner/interface?url=x",
		"/inner/user-interface?interfaceId=a&userId=1",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/inner/user-interface/invoke", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
