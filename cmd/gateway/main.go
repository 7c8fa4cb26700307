package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/apigateway/internal/application/lookup"
	"github.com/turtacn/apigateway/internal/application/usage"
	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/internal/infrastructure/cache"
	"github.com/turtacn/apigateway/internal/infrastructure/guard"
	"github.com/turtacn/apigateway/internal/infrastructure/monitoring"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/grpcclient"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/httpclient"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/kafka"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/store"
	"github.com/turtacn/apigateway/internal/infrastructure/persistence/redis"
	"github.com/turtacn/apigateway/internal/infrastructure/replay"
	apihttp "github.com/turtacn/apigateway/internal/interfaces/http"
	"github.com/turtacn/apigateway/internal/interfaces/http/handlers"
	"github.com/turtacn/apigateway/internal/interfaces/http/middleware"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/logger"
	"github.com/turtacn/apigateway/pkg/sign"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Signed-request API gateway with quota accounting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the config file")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run(configFile string) error {
	// Logger for startup
	startupLogger, _ := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})

	// Load config
	loader := config.NewLoader(configFile, startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	apihttp.SetMode(cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)

	// Initialize cache tiers
	cacheOpts := []cache.Option{
		cache.WithSingleFlight(cfg.Cache.SingleFlight),
		cache.WithMetrics(metrics),
	}
	if cfg.Redis.Enabled {
		redisConn := redis.NewConnection(cfg.Redis, appLogger)
		if err := redisConn.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisConn.Close()
		cacheOpts = append(cacheOpts, cache.WithDistributedTier(redisConn.Client()))
	}
	cacheManager, err := cache.NewManager(cache.PoliciesFromConfig(cfg.Cache), appLogger, cacheOpts...)
	if err != nil {
		return fmt.Errorf("failed to create cache manager: %w", err)
	}

	// Initialize the origin of record
	origin, originPing, closeOrigin, err := newOrigin(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer closeOrigin()

	// Initialize pipeline
	allowList, err := config.NewAllowList(cfg.Gateway.IPAllowList)
	if err != nil {
		return fmt.Errorf("invalid ip allow-list: %w", err)
	}
	loader.WatchAllowList(allowList)

	signer, err := sign.New(constants.SignAlgorithm(cfg.Gateway.SignAlgorithm))
	if err != nil {
		return err
	}
	validator := service.NewCredentialValidator(signer,
		service.WithMaxNonce(cfg.Gateway.MaxNonce),
		service.WithReplayWindow(cfg.Gateway.ReplayWindow))

	recorder := usage.NewRecorder(origin, appLogger, usage.WithMetrics(metrics))

	gatewayOpts := []middleware.GatewayOption{middleware.WithPipelineMetrics(metrics)}
	if cfg.Gateway.ReplayGuard {
		gatewayOpts = append(gatewayOpts, middleware.WithNonceGuard(replay.NewNonceGuard(cfg.Gateway.ReplayWindow)))
	}
	gw := middleware.NewGateway(cfg.Gateway.Host, allowList, lookup.NewFacade(cacheManager, origin),
		validator, recorder, appLogger, gatewayOpts...)

	proxy, err := handlers.NewProxyHandler(cfg.Gateway.UpstreamURL, cfg.Server.WriteTimeout, appLogger)
	if err != nil {
		return err
	}

	var requestGuard *guard.Guard
	if cfg.Guard.Enabled {
		requestGuard = guard.New(cfg.Guard, appLogger, metrics)
	}

	health := handlers.NewHealthHandler(map[string]handlers.Checker{
		"redis":  cacheManager.Ping,
		"origin": originPing,
	}, appLogger)

	gatewayEngine := apihttp.NewGatewayEngine(apihttp.GatewayRoutes{
		Gateway: gw,
		Proxy:   proxy,
		Health:  health,
		Guard:   requestGuard,
		Tracer:  tracing.Tracer(),
		Metrics: metrics,
	}, appLogger)
	adminEngine := apihttp.NewAdminEngine(cfg.Server, apihttp.AdminRoutes{
		Cache:    handlers.NewCacheHandler(cacheManager, appLogger),
		Health:   health,
		Gatherer: registry,
	}, appLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apihttp.NewServer("gateway", cfg.Server.Addr, gatewayEngine, cfg.Server, appLogger).Run(gctx)
	})
	if cfg.Server.AdminAddr != "" {
		g.Go(func() error {
			return apihttp.NewServer("admin", cfg.Server.AdminAddr, adminEngine, cfg.Server, appLogger).Run(gctx)
		})
	}
	err = g.Wait()

	// Flush pending usage records
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if werr := recorder.Wait(drainCtx); werr != nil {
		appLogger.Warn(context.Background(), "Pending usage records were abandoned", logger.String("error", werr.Error()))
	}
	return err
}

// newOrigin selects the remote RPC origin or a direct database, and wraps it
// with the Kafka usage producer when enabled.
func newOrigin(ctx context.Context, cfg *config.Config, log logger.Logger) (service.OriginClient, handlers.Checker, func(), error) {
	var (
		origin service.OriginClient
		ping   handlers.Checker
		closer = func() {}
	)

	switch cfg.Origin.Kind {
	case "store":
		db, err := store.Open(cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		s := store.New(db, log)
		if cfg.Database.AutoMigrate {
			if err := s.Migrate(ctx); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		origin, ping = s, s.Ping
		closer = func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	case "http", "":
		client := httpclient.New(cfg.Origin, log)
		origin, ping = client, client.Ping
	case "grpc":
		client, err := grpcclient.New(cfg.Origin, log)
		if err != nil {
			return nil, nil, nil, err
		}
		origin, ping = client, client.Ping
		closer = func() { _ = client.Close() }
	default:
		return nil, nil, nil, fmt.Errorf("unsupported origin kind %q", cfg.Origin.Kind)
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewUsageProducer(cfg.Kafka, origin, log)
		origin = producer
		prev := closer
		closer = func() {
			_ = producer.Close()
			prev()
		}
	}
	return origin, ping, closer, nil
}
