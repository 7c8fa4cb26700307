package service

import (
	"context"

	"github.com/turtacn/apigateway/internal/domain/models"
)

//go:generate mockery --name OriginClient --output mocks --outpkg mocks
// OriginClient is the narrow contract the gateway holds against the origin of record.
// OriginClient 是网关对源数据服务的窄接口契约。
//
// Resolve methods return (nil, nil) when the record does not exist. A non-nil
// error means the origin could not answer; callers treat both as absent.
type OriginClient interface {
	// ResolveUserByAccessKey returns the principal owning accessKey.
	// ResolveUserByAccessKey 返回持有该 accessKey 的用户。
	ResolveUserByAccessKey(ctx context.Context, accessKey string) (*models.Principal, error)

	// ResolveRoute returns the interface registered under (fullURL, method).
	// ResolveRoute 返回以 (fullURL, method) 注册的接口。
	ResolveRoute(ctx context.Context, fullURL, method string) (*models.RouteDescriptor, error)

	// ResolveQuota returns the grant between userID and interfaceID.
	// ResolveQuota 返回用户与接口之间的调用授权。
	ResolveQuota(ctx context.Context, interfaceID, userID int64) (*models.QuotaRelation, error)

	// RecordInvocation atomically increments totalCalls and, unless uncapped,
	// decrements remainingCalls. It fails with ErrNotFound, ErrNoGrant,
	// ErrQuotaExhausted or ErrSystem.
	// RecordInvocation 原子地累加调用次数并扣减剩余次数。
	RecordInvocation(ctx context.Context, interfaceID, userID int64) error
}
