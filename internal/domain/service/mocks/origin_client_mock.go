package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
)

var _ service.OriginClient = (*MockOriginClient)(nil)

// MockOriginClient is a mock implementation of service.OriginClient.
type MockOriginClient struct {
	mock.Mock
}

func (m *MockOriginClient) ResolveUserByAccessKey(ctx context.Context, accessKey string) (*models.Principal, error) {
	args := m.Called(ctx, accessKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Principal), args.Error(1)
}

func (m *MockOriginClient) ResolveRoute(ctx context.Context, fullURL, method string) (*models.RouteDescriptor, error) {
	args := m.Called(ctx, fullURL, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RouteDescriptor), args.Error(1)
}

func (m *MockOriginClient) ResolveQuota(ctx context.Context, interfaceID, userID int64) (*models.QuotaRelation, error) {
	args := m.Called(ctx, interfaceID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QuotaRelation), args.Error(1)
}

func (m *MockOriginClient) RecordInvocation(ctx context.Context, interfaceID, userID int64) error {
	args := m.Called(ctx, interfaceID, userID)
	return args.Error(0)
}
