package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/infrastructure/monitoring"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/kafka"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/store"
	apigrpc "github.com/turtacn/apigateway/internal/interfaces/grpc"
	apihttp "github.com/turtacn/apigateway/internal/interfaces/http"
	"github.com/turtacn/apigateway/internal/interfaces/http/handlers"
	"github.com/turtacn/apigateway/pkg/logger"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:   "origin",
		Short: "Origin of record for principals, interfaces and invocation quotas.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the config file")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("origin: %v", err)
	}
}

func run(configFile string) error {
	startupLogger, _ := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})

	cfg, err := config.LoadConfig(configFile, startupLogger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Server.OriginAddr == "" {
		return fmt.Errorf("server.origin_addr is required")
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	apihttp.SetMode(cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	s := store.New(db, appLogger)
	if cfg.Database.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	health := handlers.NewHealthHandler(map[string]handlers.Checker{"database": s.Ping}, appLogger)
	engine := apihttp.NewOriginEngine(handlers.NewOriginHandler(s, appLogger), health, appLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apihttp.NewServer("origin", cfg.Server.OriginAddr, engine, cfg.Server, appLogger).Run(gctx)
	})

	if cfg.Server.OriginGRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.OriginGRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.OriginGRPCAddr, err)
		}
		grpcServer := apigrpc.NewOriginGRPCServer(s, appLogger)
		g.Go(func() error {
			appLogger.Info(gctx, "Starting origin gRPC server", logger.String("addr", cfg.Server.OriginGRPCAddr))
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	// Usage events published by gateways are applied here when Kafka is on.
	if cfg.Kafka.Enabled {
		consumer := kafka.NewUsageConsumer(cfg.Kafka, s, appLogger)
		g.Go(func() error {
			consumer.Start(gctx)
			consumer.Stop()
			return nil
		})
	}
	return g.Wait()
}
