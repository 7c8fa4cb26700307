// Package redis provides Redis connection management for the distributed cache tier.
// It supports standalone, cluster, and sentinel deployment modes with connection pooling.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/pkg/logger"
)

// ConnectionMode defines Redis deployment mode
type ConnectionMode string

const (
	// ModeStandalone represents single Redis instance
	ModeStandalone ConnectionMode = "standalone"
	// ModeCluster represents Redis cluster mode
	ModeCluster ConnectionMode = "cluster"
	// ModeSentinel represents Redis sentinel mode for high availability
	ModeSentinel ConnectionMode = "sentinel"
)

// Connection manages Redis client lifecycle and health monitoring.
type Connection struct {
	cfg    config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewConnection creates a new Redis connection manager instance.
func NewConnection(cfg config.RedisConfig, log logger.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: log.WithComponent("redis"),
	}
}

// NewConnectionFromClient wraps an existing client, used by tests and tools.
func NewConnectionFromClient(client redis.UniversalClient, log logger.Logger) *Connection {
	return &Connection{client: client, logger: log.WithComponent("redis")}
}

// Connect establishes the Redis connection based on the configured mode.
// A failed ping leaves the client in place: the cache tier degrades to
// origin reads and recovers once Redis comes back.
func (c *Connection) Connect(ctx context.Context) error {
	if c.client != nil {
		c.logger.Warn(ctx, "Redis connection already initialized")
		return nil
	}

	switch ConnectionMode(c.cfg.Mode) {
	case ModeStandalone, "":
		c.client = redis.NewClient(&redis.Options{
			Addr:         c.firstAddr(),
			Password:     c.cfg.Password,
			DB:           c.cfg.DB,
			PoolSize:     c.cfg.PoolSize,
			MinIdleConns: c.cfg.MinIdleConns,
			DialTimeout:  c.cfg.DialTimeout,
			ReadTimeout:  c.cfg.ReadTimeout,
			WriteTimeout: c.cfg.WriteTimeout,
		})
	case ModeCluster:
		c.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        c.cfg.Addresses,
			Password:     c.cfg.Password,
			PoolSize:     c.cfg.PoolSize,
			MinIdleConns: c.cfg.MinIdleConns,
			DialTimeout:  c.cfg.DialTimeout,
			ReadTimeout:  c.cfg.ReadTimeout,
			WriteTimeout: c.cfg.WriteTimeout,
		})
	case ModeSentinel:
		if c.cfg.MasterName == "" {
			return fmt.Errorf("sentinel master name not configured")
		}
		c.client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    c.cfg.MasterName,
			SentinelAddrs: c.cfg.Addresses,
			Password:      c.cfg.Password,
			DB:            c.cfg.DB,
			PoolSize:      c.cfg.PoolSize,
			MinIdleConns:  c.cfg.MinIdleConns,
			DialTimeout:   c.cfg.DialTimeout,
			ReadTimeout:   c.cfg.ReadTimeout,
			WriteTimeout:  c.cfg.WriteTimeout,
		})
	default:
		return fmt.Errorf("unsupported Redis mode: %s", c.cfg.Mode)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		c.logger.Warn(ctx, "Redis unreachable at startup, distributed tier degraded",
			logger.String("mode", c.cfg.Mode),
			logger.Any("addrs", c.cfg.Addresses),
			logger.String("error", err.Error()),
		)
		return nil
	}

	c.logger.Info(ctx, "Redis connection established successfully",
		logger.String("mode", c.cfg.Mode),
		logger.Int("pool_size", c.cfg.PoolSize),
	)
	return nil
}

func (c *Connection) firstAddr() string {
	if len(c.cfg.Addresses) == 0 {
		return "localhost:6379"
	}
	return c.cfg.Addresses[0]
}

// Client returns the Redis client instance, or nil before Connect.
func (c *Connection) Client() redis.UniversalClient {
	return c.client
}

// Ping checks Redis server connectivity.
func (c *Connection) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis connection not initialized")
	}
	return c.client.Ping(ctx).Err()
}

// Close gracefully closes the Redis connection.
func (c *Connection) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		c.logger.Error(context.Background(), "Failed to close Redis connection", err)
		return err
	}
	c.client = nil
	c.logger.Info(context.Background(), "Redis connection closed successfully")
	return nil
}
