package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/analytics"
	"github.com/kbsearch/backend/internal/api/handlers"
	redisclient "github.com/kbsearch/backend/internal/cache/redis"
	"github.com/kbsearch/backend/internal/cicd"
	"github.com/kbsearch/backend/internal/corpus"
	"github.com/kbsearch/backend/internal/embedding"
	"github.com/kbsearch/backend/internal/feedback"
	"github.com/kbsearch/backend/internal/ingestion"
	"github.com/kbsearch/backend/internal/metrics"
	"github.com/kbsearch/backend/internal/middleware/ratelimit"
	"github.com/kbsearch/backend/internal/middleware/security"
	"github.com/kbsearch/backend/internal/middleware/validation"
	"github.com/kbsearch/backend/internal/nl2sql"
	"github.com/kbsearch/backend/internal/profile"
	"github.com/kbsearch/backend/internal/retriever"
	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/internal/tools"
	"github.com/kbsearch/backend/internal/vector/milvus"
	"github.com/kbsearch/backend/pkg/config"
	appLogger "github.com/kbsearch/backend/pkg/logger"
)

const serverVersion = "1.0.0"

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

	appLogger.Info("Starting knowledge base search server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	cicdStore, err := cicd.NewStore(cfg.CICD.Path)
	if err != nil {
		appLogger.Fatal("Failed to create CI/CD store", zap.Error(err))
	}
	defer cicdStore.Close()

	if err := cicdStore.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize CI/CD schema", zap.Error(err))
	}
	if err := cicdStore.SeedIfEmpty(); err != nil {
		appLogger.Warn("Failed to seed CI/CD data", zap.Error(err))
	}

	var redisCache *redisclient.Client
	if cfg.Redis.Enabled {
		redisCache, err = redisclient.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without it", zap.Error(err))
			redisCache = nil
		}
	}

	var candidateIndex corpus.CandidateIndex
	if cfg.Milvus.Enabled {
		milvusClient, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Embedding.Dim)
		if err != nil {
			appLogger.Warn("Milvus unavailable, falling back to full corpus scans", zap.Error(err))
		} else {
			defer milvusClient.Close()
			if err := milvusClient.EnsureCollection(context.Background()); err != nil {
				appLogger.Warn("Failed to prepare Milvus collection", zap.Error(err))
			} else {
				candidateIndex = milvusClient
			}
		}
	}

	cacheTTL := time.Duration(cfg.System.CacheTTLSec) * time.Second
	embedder := embedding.NewClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dim,
		cfg.System.TimeoutSec,
		cfg.System.MaxRetries,
		redisCache,
		cacheTTL,
	)

	profiles := profile.NewStore(sqliteClient)
	ensureDefaultProfile(profiles, cfg)

	knowledgeCorpus := corpus.New(sqliteClient, embedder, candidateIndex)
	searchEngine := retriever.NewEngine(sqliteClient, knowledgeCorpus, embedder, profiles, cfg.Retrieval.ProfileName)
	aggregator := feedback.NewAggregator(sqliteClient)
	processor := ingestion.NewProcessor(knowledgeCorpus, profiles, cfg.Retrieval.ProfileName)

	var patternStore nl2sql.Store
	storeName := "memory"
	if redisCache != nil {
		patternStore = nl2sql.NewRedisStore(redisCache, cacheTTL)
		storeName = "redis"
	} else {
		patternStore = nl2sql.NewMemoryStore(cacheTTL)
	}

	knownApps, err := cicdStore.KnownApps()
	if err != nil {
		appLogger.Warn("Failed to list known apps", zap.Error(err))
	}
	sqlEngine := nl2sql.NewEngine(patternStore, cicdStore, nl2sql.NewExtractor(knownApps), storeName)

	dispatcher := tools.NewDispatcher(time.Duration(cfg.System.TimeoutSec) * time.Second)
	tools.NewService(searchEngine, aggregator, sqlEngine).RegisterAll(dispatcher)

	rollup, err := analytics.NewRollup(sqliteClient, time.Duration(cfg.System.RollupIntervalSec)*time.Second)
	if err != nil {
		appLogger.Fatal("Failed to create rollup scheduler", zap.Error(err))
	}
	if err := rollup.Start(); err != nil {
		appLogger.Fatal("Failed to start rollup scheduler", zap.Error(err))
	}
	defer rollup.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
	}))

	toolsHandler := handlers.NewToolsHandler(dispatcher)
	documentHandler := handlers.NewDocumentHandler(processor)
	queryHandler := handlers.NewQueryHandler(sqliteClient)
	profileHandler := handlers.NewProfileHandler(profiles)
	analyticsHandler := handlers.NewAnalyticsHandler(rollup)
	healthHandler := handlers.NewHealthHandler(sqliteClient, cicdStore, redisCache)

	api := app.Group("/api/v1")

	api.Get("/tools", toolsHandler.ListTools)
	api.Post("/tools/:name", toolsHandler.HandleCall)

	api.Post("/documents", documentHandler.HandleUpload)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Post("/profiles", profileHandler.HandleCreate)
	api.Get("/profiles/active", profileHandler.HandleGetActive)
	api.Get("/profiles/:id", profileHandler.HandleGet)
	api.Post("/profiles/:id/changes", profileHandler.HandleRecordChange)

	api.Get("/analytics/rollups", analyticsHandler.HandleRollups)

	app.Get("/health", healthHandler.HandleHealth)
	app.Get("/metrics", metrics.MetricsHandler())

	var mcpServer *http.Server
	if cfg.MCP.Enabled {
		mcpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.MCP.Port)
		mcpServer = &http.Server{
			Addr:              mcpAddr,
			Handler:           tools.StreamableHTTPHandler(tools.NewMCPServer(dispatcher, serverVersion)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			appLogger.Info("MCP server starting", zap.String("address", mcpAddr))
			if err := mcpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error("MCP server error", zap.Error(err))
			}
		}()
	}

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
	if mcpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mcpServer.Shutdown(shutdownCtx)
		cancel()
	}
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// ensureDefaultProfile creates and activates the configured profile on first
// boot. Existing active profiles are left untouched.
func ensureDefaultProfile(profiles *profile.Store, cfg *config.Config) {
	_, err := profiles.GetActive(cfg.Retrieval.ProfileName)
	if err == nil {
		return
	}
	if !toolerr.IsNotFound(err) {
		appLogger.Fatal("Failed to look up active profile", zap.Error(err))
	}

	_, err = profiles.Create(profile.CreateRequest{
		Name:    cfg.Retrieval.ProfileName,
		Version: "1",
		Provider: models.ProviderConfig{
			EmbeddingProvider: cfg.Embedding.Provider,
			EmbeddingModel:    cfg.Embedding.Model,
			EmbeddingDim:      cfg.Embedding.Dim,
		},
		Chunking: models.ChunkingConfig{
			ChunkSize:    cfg.Retrieval.ChunkSize,
			ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		},
		Retrieval: models.RetrievalConfig{
			VectorWeight:       cfg.Retrieval.VectorWeight,
			LexicalWeight:      cfg.Retrieval.LexicalWeight,
			RelevanceThreshold: cfg.Retrieval.RelevanceThreshold,
			TopK:               cfg.Retrieval.TopK,
		},
		System: models.SystemConfig{
			TimeoutSec:  cfg.System.TimeoutSec,
			MaxRetries:  cfg.System.MaxRetries,
			CacheTTLSec: cfg.System.CacheTTLSec,
		},
		Activate:  true,
		CreatedBy: "bootstrap",
	})
	if err != nil {
		appLogger.Fatal("Failed to create default profile", zap.Error(err))
	}

	appLogger.Info("Default profile created", zap.String("name", cfg.Retrieval.ProfileName))
}
