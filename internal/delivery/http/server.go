package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	fiberSwagger "github.com/swaggo/fiber-swagger"
	"github.com/tilecache-microservice/internal/config"
	"github.com/tilecache-microservice/internal/delivery/http/handler"
	"github.com/tilecache-microservice/internal/delivery/http/middleware"
	"go.uber.org/zap"
)

// Server is the Fiber HTTP front of the tile cache service.
type Server struct {
	app    *fiber.App
	config *config.Config
	logger *zap.Logger

	cacheHandler    *handler.CacheHandler
	tileHandler     *handler.TileHandler
	downloadHandler *handler.DownloadHandler
	statsHandler    *handler.StatsHandler
}

func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	cacheHandler *handler.CacheHandler,
	tileHandler *handler.TileHandler,
	downloadHandler *handler.DownloadHandler,
	statsHandler *handler.StatsHandler,
) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "Tile Cache Microservice",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: customErrorHandler(logger),
	})

	s := &Server{
		app:             app,
		config:          cfg,
		logger:          logger,
		cacheHandler:    cacheHandler,
		tileHandler:     tileHandler,
		downloadHandler: downloadHandler,
		statsHandler:    statsHandler,
	}

	s.setupMiddlewares()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddlewares() {
	s.app.Use(middleware.Recovery(s.logger))
	s.app.Use(middleware.Logger(s.logger))
	s.app.Use(middleware.CORS())
	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
}

func (s *Server) setupRoutes() {
	// Swagger documentation route
	s.app.Get("/swagger/*", fiberSwagger.WrapHandler)

	api := s.app.Group("/api/v1")

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now(),
		})
	})

	// Cache registry
	api.Post("/caches", s.cacheHandler.CreateCache)
	api.Get("/caches", s.cacheHandler.ListCaches)
	api.Get("/caches/within", s.cacheHandler.FindWithinBounds)
	api.Get("/caches/containing", s.cacheHandler.FindContainingPoint)
	api.Post("/caches/cleanup", s.cacheHandler.CleanupExpired)
	api.Get("/caches/:id", s.cacheHandler.GetCache)
	api.Delete("/caches/:id", s.cacheHandler.DeleteCache)

	// Tile index and tile images
	api.Get("/caches/:id/tiles", s.tileHandler.ListTiles)
	api.Get("/caches/:id/tiles/:z/:x/:y", s.tileHandler.GetTileData)

	// Download sessions
	api.Post("/caches/:id/download", s.downloadHandler.Start)
	api.Get("/caches/:id/download", s.downloadHandler.Status)
	api.Post("/caches/:id/download/pause", s.downloadHandler.Pause)
	api.Post("/caches/:id/download/resume", s.downloadHandler.Resume)
	api.Post("/caches/:id/download/cancel", s.downloadHandler.Cancel)
	api.Get("/caches/:id/download/sessions", s.downloadHandler.ListSessions)
	api.Get("/sessions/:id", s.downloadHandler.GetSession)

	// Statistics
	api.Get("/stats", s.statsHandler.GetGlobalStats)
	api.Get("/stats/regions", s.statsHandler.GetRegionStats)
}

func (s *Server) Start() error {
	addr := s.config.GetServerAddr()
	s.logger.Info("Starting HTTP server", zap.String("address", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying Fiber app for handler tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error("HTTP Error",
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)

		return c.Status(code).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "INTERNAL_SERVER_ERROR",
				"message": err.Error(),
			},
		})
	}
}
