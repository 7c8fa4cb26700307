package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/pkg/logger"
)

func TestConnection_Standalone(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	conn := NewConnection(config.RedisConfig{Mode: "standalone", Addresses: []string{mr.Addr()}, PoolSize: 4}, logger.NewNoopLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	require.NotNil(t, conn.Client())
	assert.NoError(t, conn.Ping(context.Background()))
}

func TestConnection_UnreachableIsDegradedNotFatal(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	conn := NewConnection(config.RedisConfig{Mode: "standalone", Addresses: []string{addr}}, logger.NewNoopLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	assert.Error(t, conn.Ping(context.Background()))
}

func TestConnection_UnsupportedMode(t *testing.T) {
	conn := NewConnection(config.RedisConfig{Mode: "shard"}, logger.NewNoopLogger())
	assert.Error(t, conn.Connect(context.Background()))

	conn = NewConnection(config.RedisConfig{Mode: "sentinel", Addresses: []string{"localhost:26379"}}, logger.NewNoopLogger())
	assert.Error(t, conn.Connect(context.Background()))
}

func TestConnection_NotInitialized(t *testing.T) {
	conn := NewConnection(config.RedisConfig{}, logger.NewNoopLogger())
	assert.Nil(t, conn.Client())
	assert.Error(t, conn.Ping(context.Background()))
	assert.NoError(t, conn.Close())
}
