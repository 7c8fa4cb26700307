package config

import (
	"fmt"
	"time"

	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/sign"
)

// Config holds the application's configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Origin   OriginConfig   `mapstructure:"origin"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AdminAddr       string        `mapstructure:"admin_addr"`
	OriginAddr      string        `mapstructure:"origin_addr"`
	OriginGRPCAddr  string        `mapstructure:"origin_grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Environment     string        `mapstructure:"environment"`
}

// GatewayConfig drives the request pipeline.
type GatewayConfig struct {
	// Host prefixes the request path to form the interface's full URL.
	Host          string        `mapstructure:"host"`
	IPAllowList   []string      `mapstructure:"ip_allow_list"`
	MaxNonce      int64         `mapstructure:"max_nonce"`
	ReplayWindow  time.Duration `mapstructure:"replay_window"`
	SignAlgorithm string        `mapstructure:"sign_algorithm"`
	UpstreamURL   string        `mapstructure:"upstream_url"`
	ReplayGuard   bool          `mapstructure:"replay_guard"`
}

// EntityPolicy sizes one entity type in both cache tiers.
type EntityPolicy struct {
	Capacity       int           `mapstructure:"capacity"`
	InactivityTTL  time.Duration `mapstructure:"inactivity_ttl"`
	DistributedTTL time.Duration `mapstructure:"distributed_ttl"`
}

type CacheConfig struct {
	SingleFlight  bool         `mapstructure:"single_flight"`
	User          EntityPolicy `mapstructure:"user"`
	Interface     EntityPolicy `mapstructure:"interface"`
	UserInterface EntityPolicy `mapstructure:"user_interface"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Mode         string        `mapstructure:"mode"`
	Addresses    []string      `mapstructure:"addresses"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// OriginConfig selects how the gateway reaches the origin of record.
type OriginConfig struct {
	// Kind is "http" or "grpc" for the remote origin service, or "store" for a
	// direct database.
	Kind    string        `mapstructure:"kind"`
	BaseURL string        `mapstructure:"base_url"`
	Target  string        `mapstructure:"target"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	UsageTopic   string        `mapstructure:"usage_topic"`
	GroupID      string        `mapstructure:"group_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// GuardConfig tunes the request-volume and error-ratio governor.
type GuardConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	QPS               float64       `mapstructure:"qps"`
	Burst             int           `mapstructure:"burst"`
	ErrorRatio        float64       `mapstructure:"error_ratio"`
	SlowCallThreshold time.Duration `mapstructure:"slow_call_threshold"`
	SlowCallRatio     float64       `mapstructure:"slow_call_ratio"`
	MinRequests       uint32        `mapstructure:"min_requests"`
	StatInterval      time.Duration `mapstructure:"stat_interval"`
	OpenDuration      time.Duration `mapstructure:"open_duration"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.MaxNonce <= 0 {
		return fmt.Errorf("gateway.max_nonce must be positive, got %d", c.Gateway.MaxNonce)
	}
	if c.Gateway.ReplayWindow < time.Second {
		return fmt.Errorf("gateway.replay_window must be at least 1s, got %s", c.Gateway.ReplayWindow)
	}
	if _, err := sign.New(constants.SignAlgorithm(c.Gateway.SignAlgorithm)); err != nil {
		return fmt.Errorf("gateway.sign_algorithm: %w", err)
	}

	for name, p := range map[string]EntityPolicy{
		"user":           c.Cache.User,
		"interface":      c.Cache.Interface,
		"user_interface": c.Cache.UserInterface,
	} {
		if p.Capacity <= 0 {
			return fmt.Errorf("cache.%s.capacity must be positive, got %d", name, p.Capacity)
		}
		if p.InactivityTTL <= 0 || p.DistributedTTL <= 0 {
			return fmt.Errorf("cache.%s ttls must be positive", name)
		}
	}

	if c.Redis.Enabled {
		switch c.Redis.Mode {
		case "standalone", "cluster", "sentinel":
		default:
			return fmt.Errorf("redis.mode %q is not supported", c.Redis.Mode)
		}
		if len(c.Redis.Addresses) == 0 {
			return fmt.Errorf("redis.addresses is required when redis is enabled")
		}
	}

	switch c.Origin.Kind {
	case "http":
		if c.Origin.BaseURL == "" {
			return fmt.Errorf("origin.base_url is required for the http origin")
		}
	case "grpc":
		if c.Origin.Target == "" {
			return fmt.Errorf("origin.target is required for the grpc origin")
		}
	case "store":
	default:
		return fmt.Errorf("origin.kind %q is not supported", c.Origin.Kind)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.UsageTopic == "") {
		return fmt.Errorf("kafka.brokers and kafka.usage_topic are required when kafka is enabled")
	}

	if c.Guard.Enabled {
		if c.Guard.QPS <= 0 {
			return fmt.Errorf("guard.qps must be positive, got %v", c.Guard.QPS)
		}
		if c.Guard.ErrorRatio <= 0 || c.Guard.ErrorRatio > 1 || c.Guard.SlowCallRatio <= 0 || c.Guard.SlowCallRatio > 1 {
			return fmt.Errorf("guard ratios must be in (0, 1]")
		}
	}
	return nil
}
