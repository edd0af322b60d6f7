package main

// @title Tile Cache Microservice API
// @version 1.0.0
// @description Offline map tile cache service for disaster-relief field operations.
// @description
// @description Core capabilities:
// @description - Register offline caches for polygonal regions across zoom levels
// @description - Download tile pyramids with pause, resume and cancel control
// @description - Spatial queries: caches intersecting a bounding box or containing a point
// @description - Serve stored tile images for offline map rendering
// @description - Aggregate statistics over caches and regions

// @contact.name API Support
// @contact.email support@tilecache-microservice.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/tilecache-microservice/docs"
	"github.com/tilecache-microservice/internal/config"
	httpDelivery "github.com/tilecache-microservice/internal/delivery/http"
	"github.com/tilecache-microservice/internal/delivery/http/handler"
	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/infrastructure/tilesource"
	"github.com/tilecache-microservice/internal/pkg/logger"
	"github.com/tilecache-microservice/internal/repository/cache"
	"github.com/tilecache-microservice/internal/repository/filestore"
	"github.com/tilecache-microservice/internal/repository/postgres"
	"github.com/tilecache-microservice/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Server.Env)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting Tile Cache Microservice")
	log.Info("Configuration loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("server_addr", cfg.GetServerAddr()),
	)

	// 3. Connect to PostgreSQL
	db, err := postgres.New(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close PostgreSQL connection", zap.Error(err))
		}
	}()

	// 4. Connect to Redis
	redisClient, err := cache.NewRedis(&cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Failed to close Redis connection", zap.Error(err))
		}
	}()

	// 5. Health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Health(ctx); err != nil {
		log.Fatal("PostgreSQL health check failed", zap.Error(err))
	}
	if err := redisClient.Health(ctx); err != nil {
		log.Fatal("Redis health check failed", zap.Error(err))
	}

	log.Info("All connections healthy")

	// 6. Initialize repositories and infrastructure
	cacheRepo := postgres.NewCacheRepository(db, log)
	tileRepo := postgres.NewTileRepository(db, log)
	sessionRepo := postgres.NewSessionRepository(db, log)
	statsRepo := postgres.NewStatsRepository(db, log)
	hotCacheRepo := cache.NewHotCacheRepository(redisClient)

	tileStore, err := filestore.New(cfg.Storage.BasePath, log)
	if err != nil {
		log.Fatal("Failed to initialize tile storage", zap.Error(err))
	}
	tileSource := tilesource.NewClient(cfg.Download.UserAgent, log)

	log.Info("Repositories initialized")

	// 7. Initialize use cases
	registryUC := usecase.NewRegistryUseCase(
		cacheRepo,
		tileRepo,
		sessionRepo,
		tileStore,
		hotCacheRepo,
		log,
		cfg.Stats.CacheTTL,
	)

	downloadUC := usecase.NewDownloadUseCase(
		cacheRepo,
		tileRepo,
		sessionRepo,
		tileSource,
		tileStore,
		hotCacheRepo,
		log,
		domain.SessionConfig{
			Concurrency: cfg.Download.Concurrency,
			MaxRetries:  cfg.Download.MaxRetries,
			TileTimeout: cfg.Download.TileTimeout,
			BackoffBase: cfg.Download.BackoffBase,
			BackoffCap:  cfg.Download.BackoffCap,
		},
	)

	statsUC := usecase.NewStatsUseCase(statsRepo, hotCacheRepo, log, cfg.Stats.CacheTTL)

	log.Info("Use cases initialized")

	// 8. Initialize HTTP handlers
	cacheHandler := handler.NewCacheHandler(registryUC, log)
	tileHandler := handler.NewTileHandler(registryUC, log)
	downloadHandler := handler.NewDownloadHandler(downloadUC, log)
	statsHandler := handler.NewStatsHandler(statsUC, log)

	// 9. Initialize HTTP server
	server := httpDelivery.NewServer(
		cfg,
		log,
		cacheHandler,
		tileHandler,
		downloadHandler,
		statsHandler,
	)

	// 10. Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started successfully",
		zap.String("address", cfg.GetServerAddr()),
		zap.String("env", cfg.Server.Env),
	)

	// 11. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server gracefully...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Pause in-flight downloads so claimed tiles are not stranded.
	downloadUC.Shutdown(ctx)

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	log.Info("Server stopped successfully")
}
