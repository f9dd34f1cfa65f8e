package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/api/handlers"
	"github.com/fisioflow/backend/internal/cache"
	"github.com/fisioflow/backend/internal/cache/redishot"
	"github.com/fisioflow/backend/internal/knowledge"
	"github.com/fisioflow/backend/internal/metrics"
	"github.com/fisioflow/backend/internal/middleware/ratelimit"
	"github.com/fisioflow/backend/internal/middleware/security"
	"github.com/fisioflow/backend/internal/middleware/validation"
	"github.com/fisioflow/backend/internal/orchestrator"
	"github.com/fisioflow/backend/internal/provider"
	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/internal/storage/sqlite"
	"github.com/fisioflow/backend/pkg/config"
	appLogger "github.com/fisioflow/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting FisioFlow Assistant API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Redis is optional. Without it the exact-hash lookup simply goes to
	// sqlite like everything else.
	var hotLayer cache.HotLayer
	var invalidator handlers.CacheInvalidator
	if cfg.Redis.Enabled {
		redisClient, err := redishot.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without hot cache layer", zap.Error(err))
		} else {
			defer redisClient.Close()
			hotLayer = redisClient
			invalidator = redisClient
		}
	}

	backends := make(map[string]provider.Backend)
	for _, account := range cfg.Providers.Accounts {
		if err := sqliteClient.UpsertBackendAccount(context.Background(), &models.BackendAccount{
			ID:           account.ID,
			ProviderName: account.Provider,
			AccountLabel: account.Label,
			IsActive:     true,
			DailyLimit:   account.DailyLimit,
		}); err != nil {
			appLogger.Fatal("Failed to register backend account",
				zap.String("account_id", account.ID), zap.Error(err))
		}

		backends[account.ID] = provider.NewChatBackend(account)
	}
	if len(backends) == 0 {
		appLogger.Warn("No backend accounts configured, queries will rely on knowledge base, cache and fallback")
	}

	rotator := provider.NewRotator(sqliteClient, backends, provider.RotatorConfig{
		Priority:        cfg.Providers.Priority,
		Timeout:         time.Duration(cfg.Providers.TimeoutSec) * time.Second,
		HighPrioTimeout: time.Duration(cfg.Providers.HighPrioritySec) * time.Second,
	})

	knowledgeStore := knowledge.NewStore(sqliteClient, cfg.Knowledge.MinConfidence, cfg.Knowledge.ContentMinConfidence)

	semanticCache := cache.NewSemantic(sqliteClient, hotLayer, cache.Config{
		TTL:           cfg.Cache.TTL(),
		ScanLimit:     cfg.Cache.ScanLimit,
		MaxEntries:    int64(cfg.Cache.MaxEntries),
		EvictionBatch: cfg.Cache.EvictionBatch,
		SimilarityMin: cfg.Cache.SimilarityMin,
	})

	orch := orchestrator.New(knowledgeStore, semanticCache, rotator, sqliteClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	queryHandler := handlers.NewQueryHandler(orch)
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledgeStore, invalidator)
	adminHandler := handlers.NewAdminHandler(orch)
	wsHandler := handlers.NewWebSocketHandler(orch)

	api := app.Group("/api/v1")

	api.Post("/assistant/query", queryHandler.HandleQuery)
	api.Post("/assistant/query/:id/feedback", queryHandler.HandleFeedback)
	api.Get("/assistant/stats", queryHandler.HandleStats)

	api.Post("/knowledge", knowledgeHandler.HandleContribute)
	api.Post("/knowledge/import", knowledgeHandler.HandleImport)
	api.Post("/knowledge/:id/validate", knowledgeHandler.HandleValidate)

	api.Post("/admin/cache/cleanup", adminHandler.HandleCacheCleanup)
	api.Post("/admin/quota/reset", adminHandler.HandleQuotaReset)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/assistant", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
