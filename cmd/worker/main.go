package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tilecache-microservice/internal/config"
	"github.com/tilecache-microservice/internal/pkg/logger"
	"github.com/tilecache-microservice/internal/repository/cache"
	"github.com/tilecache-microservice/internal/repository/filestore"
	"github.com/tilecache-microservice/internal/repository/postgres"
	"github.com/tilecache-microservice/internal/usecase"
	"github.com/tilecache-microservice/internal/worker"
	"github.com/tilecache-microservice/internal/worker/sweeper"
	"go.uber.org/zap"
)

// The worker binary runs the background jobs without the HTTP surface, for
// deployments that split the API from maintenance work.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Server.Env)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting Tile Cache Worker")

	db, err := postgres.New(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(&cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	cacheRepo := postgres.NewCacheRepository(db, log)
	tileRepo := postgres.NewTileRepository(db, log)
	sessionRepo := postgres.NewSessionRepository(db, log)
	hotCacheRepo := cache.NewHotCacheRepository(redisClient)

	tileStore, err := filestore.New(cfg.Storage.BasePath, log)
	if err != nil {
		log.Fatal("Failed to initialize tile storage", zap.Error(err))
	}

	registryUC := usecase.NewRegistryUseCase(
		cacheRepo,
		tileRepo,
		sessionRepo,
		tileStore,
		hotCacheRepo,
		log,
		cfg.Stats.CacheTTL,
	)

	manager := worker.NewWorkerManager(log)
	if cfg.Sweeper.Enabled {
		manager.Register(sweeper.New(registryUC, cfg.Sweeper.Interval, log))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		log.Fatal("Failed to start workers", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down workers gracefully...")
	cancel()

	if err := manager.Stop(); err != nil {
		log.Error("Worker shutdown error", zap.Error(err))
	}

	log.Info("Workers stopped")
}
