package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	s := New(db, logger.NewNoopLogger())
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fixture struct {
	user  *models.Principal
	route *models.RouteDescriptor
	quota *models.QuotaRelation
}

func seed(t *testing.T, s *Store, remaining int64) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		user:  &models.Principal{AccessKey: "ak-1", SecretKey: "sk-1"},
		route: &models.RouteDescriptor{Name: "name", URL: "http://localhost:8123/api/name", Method: "get"},
	}
	require.NoError(t, s.SavePrincipal(ctx, f.user))
	require.NoError(t, s.SaveRoute(ctx, f.route))
	f.quota = &models.QuotaRelation{UserID: f.user.ID, InterfaceID: f.route.ID, RemainingCalls: remaining}
	require.NoError(t, s.SaveQuota(ctx, f.quota))
	return f
}

func TestStore_Resolve(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, 5)
	ctx := context.Background()

	user, err := s.ResolveUserByAccessKey(ctx, "ak-1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, f.user.ID, user.ID)
	assert.Equal(t, "sk-1", user.SecretKey)

	route, err := s.ResolveRoute(ctx, "http://localhost:8123/api/name", "Get")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, "GET", route.Method)

	quota, err := s.ResolveQuota(ctx, f.route.ID, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, quota)
	assert.EqualValues(t, 5, quota.RemainingCalls)
}

func TestStore_ResolveAbsent(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, 5)
	ctx := context.Background()

	user, err := s.ResolveUserByAccessKey(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, user)

	user, err = s.ResolveUserByAccessKey(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, user)

	route, err := s.ResolveRoute(ctx, "http://localhost:8123/api/name", "POST")
	assert.NoError(t, err)
	assert.Nil(t, route)

	quota, err := s.ResolveQuota(ctx, f.route.ID, f.user.ID+100)
	assert.NoError(t, err)
	assert.Nil(t, quota)
}

func TestStore_RecordInvocation(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, 2)
	ctx := context.Background()

	require.NoError(t, s.RecordInvocation(ctx, f.route.ID, f.user.ID))
	require.NoError(t, s.RecordInvocation(ctx, f.route.ID, f.user.ID))

	err := s.RecordInvocation(ctx, f.route.ID, f.user.ID)
	assert.ErrorIs(t, err, errors.ErrQuotaExhausted)

	quota, err := s.ResolveQuota(ctx, f.route.ID, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, quota.RemainingCalls)
	assert.EqualValues(t, 2, quota.TotalCalls)
}

func TestStore_RecordInvocation_Unlimited(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, -1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordInvocation(ctx, f.route.ID, f.user.ID))
	}

	quota, err := s.ResolveQuota(ctx, f.route.ID, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, -1, quota.RemainingCalls)
	assert.EqualValues(t, 3, quota.TotalCalls)
}

func TestStore_RecordInvocation_Failures(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, 1)
	ctx := context.Background()

	other := &models.Principal{AccessKey: "ak-2", SecretKey: "sk-2"}
	require.NoError(t, s.SavePrincipal(ctx, other))

	tests := []struct {
		name        string
		interfaceID int64
		userID      int64
		want        error
	}{
		{"zero interface id", 0, f.user.ID, errors.ErrNotFound},
		{"negative user id", f.route.ID, -1, errors.ErrNotFound},
		{"unknown interface", f.route.ID + 100, f.user.ID, errors.ErrNotFound},
		{"unknown user", f.route.ID, other.ID + 100, errors.ErrNotFound},
		{"no relation", f.route.ID, other.ID, errors.ErrNoGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.RecordInvocation(ctx, tt.interfaceID, tt.userID), tt.want)
		})
	}

	quota, err := s.ResolveQuota(ctx, f.route.ID, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, quota.RemainingCalls)
	assert.EqualValues(t, 0, quota.TotalCalls)
}

func TestStore_RecordInvocation_Concurrent(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, 5)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RecordInvocation(ctx, f.route.ID, f.user.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, errors.ErrQuotaExhausted) {
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 7, exhausted)

	quota, err := s.ResolveQuota(ctx, f.route.ID, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, quota.RemainingCalls)
	assert.EqualValues(t, 5, quota.TotalCalls)
}

func TestStore_SaveQuotaRejectsBelowUnlimited(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveQuota(context.Background(), &models.QuotaRelation{UserID: 1, InterfaceID: 1, RemainingCalls: -2})
	assert.Error(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
