package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/logger"
)

// Loader reads configuration from file and environment and keeps the viper
// instance around so the IP allow-list can be reloaded.
type Loader struct {
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a new Loader. An empty configFile searches the default paths.
func NewLoader(configFile string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/apigateway/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("APIGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log.WithComponent("config")}
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(configFile string, log logger.Logger) (*Config, error) {
	return NewLoader(configFile, log).Load()
}

// Load reads, decodes and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		l.log.Warn(context.Background(), "No config file found, using defaults and environment")
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WatchAllowList reloads the IP allow-list into list whenever the config file
// changes. Other keys are only read at startup.
func (l *Loader) WatchAllowList(list *AllowList) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.reloadAllowList(e, list)
	})
	l.v.WatchConfig()
}

func (l *Loader) reloadAllowList(e fsnotify.Event, list *AllowList) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	entries := l.v.GetStringSlice("gateway.ip_allow_list")
	if err := list.Replace(entries); err != nil {
		l.log.Error(context.Background(), "Rejected reloaded ip allow-list", err,
			logger.String("file", e.Name))
		return
	}
	l.log.Info(context.Background(), "IP allow-list reloaded",
		logger.String("file", e.Name),
		logger.Int("entries", len(entries)))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.admin_addr", ":8091")
	v.SetDefault("server.origin_addr", ":8092")
	v.SetDefault("server.origin_grpc_addr", ":8093")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.environment", "development")

	v.SetDefault("gateway.host", "http://localhost:8123")
	v.SetDefault("gateway.ip_allow_list", []string{"127.0.0.1", "::1"})
	v.SetDefault("gateway.max_nonce", constants.MaxNonce)
	v.SetDefault("gateway.replay_window", constants.ReplayWindow.String())
	v.SetDefault("gateway.sign_algorithm", string(constants.SignAlgorithmMD5))
	v.SetDefault("gateway.upstream_url", "http://localhost:8123")
	v.SetDefault("gateway.replay_guard", false)

	v.SetDefault("cache.single_flight", false)
	v.SetDefault("cache.user.capacity", 500)
	v.SetDefault("cache.user.inactivity_ttl", "1m")
	v.SetDefault("cache.user.distributed_ttl", "5m")
	v.SetDefault("cache.interface.capacity", 300)
	v.SetDefault("cache.interface.inactivity_ttl", "2m")
	v.SetDefault("cache.interface.distributed_ttl", "5m")
	v.SetDefault("cache.user_interface.capacity", 1000)
	v.SetDefault("cache.user_interface.inactivity_ttl", "4m")
	v.SetDefault("cache.user_interface.distributed_ttl", "5m")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("origin.kind", "http")
	v.SetDefault("origin.base_url", "http://localhost:8092")
	v.SetDefault("origin.target", "localhost:8093")
	v.SetDefault("origin.timeout", "3s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:apigateway.db?cache=shared")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.usage_topic", "api-usage-events")
	v.SetDefault("kafka.group_id", "apigateway-origin")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "50ms")

	v.SetDefault("guard.enabled", true)
	v.SetDefault("guard.qps", constants.DefaultGuardQPS)
	v.SetDefault("guard.burst", int(constants.DefaultGuardQPS))
	v.SetDefault("guard.error_ratio", constants.DefaultGuardErrorRatio)
	v.SetDefault("guard.slow_call_threshold", constants.DefaultGuardSlowCallThreshold.String())
	v.SetDefault("guard.slow_call_ratio", constants.DefaultGuardSlowCallRatio)
	v.SetDefault("guard.min_requests", constants.DefaultGuardMinRequests)
	v.SetDefault("guard.stat_interval", "1s")
	v.SetDefault("guard.open_duration", constants.DefaultGuardOpenDuration.String())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", "apigateway")
	v.SetDefault("tracing.sample_rate", 1.0)
}
