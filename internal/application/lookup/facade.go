// Package lookup resolves the records the pipeline needs through the cache,
// using the origin as loader. Key construction lives here and nowhere else.
package lookup

import (
	"context"
	"strconv"

	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/internal/infrastructure/cache"
)

// UserKey is the cache key of the principal owning accessKey.
func UserKey(accessKey string) string {
	return cache.EntityUser.Prefix() + accessKey
}

// InterfaceKey is the cache key of the route registered under (fullURL, method).
func InterfaceKey(fullURL, method string) string {
	return cache.EntityInterface.Prefix() + fullURL + ":" + method
}

// UserInterfaceKey is the cache key of the grant between userID and interfaceID.
func UserInterfaceKey(userID, interfaceID int64) string {
	return cache.EntityUserInterface.Prefix() + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(interfaceID, 10)
}

// Facade combines the cache manager with the origin client.
type Facade struct {
	cache  *cache.Manager
	origin service.OriginClient
}

// NewFacade creates a new Facade.
func NewFacade(m *cache.Manager, origin service.OriginClient) *Facade {
	return &Facade{cache: m, origin: origin}
}

// User resolves a principal by access key.
func (f *Facade) User(ctx context.Context, accessKey string) cache.Result[models.Principal] {
	return cache.Get(ctx, f.cache, cache.EntityUser, UserKey(accessKey),
		func(ctx context.Context) (*models.Principal, error) {
			return f.origin.ResolveUserByAccessKey(ctx, accessKey)
		})
}

// Route resolves an interface by full URL and method.
func (f *Facade) Route(ctx context.Context, fullURL, method string) cache.Result[models.RouteDescriptor] {
	method = models.NormalizeMethod(method)
	return cache.Get(ctx, f.cache, cache.EntityInterface, InterfaceKey(fullURL, method),
		func(ctx context.Context) (*models.RouteDescriptor, error) {
			return f.origin.ResolveRoute(ctx, fullURL, method)
		})
}

// Quota resolves the grant between a principal and an interface.
func (f *Facade) Quota(ctx context.Context, userID, interfaceID int64) cache.Result[models.QuotaRelation] {
	return cache.Get(ctx, f.cache, cache.EntityUserInterface, UserInterfaceKey(userID, interfaceID),
		func(ctx context.Context) (*models.QuotaRelation, error) {
			return f.origin.ResolveQuota(ctx, interfaceID, userID)
		})
}
