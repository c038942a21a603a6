package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/config"
	"github.com/framepick/api/internal/handler"
	"github.com/framepick/api/internal/middleware"
	"github.com/framepick/api/internal/pipeline"
	"github.com/framepick/api/internal/service"
	"github.com/framepick/api/internal/store"
	"github.com/framepick/api/internal/worker"
	ws "github.com/framepick/api/internal/websocket"
	"github.com/framepick/api/pkg/response"
)

// @title          Frame-Pick API
// @version        1.0
// @description    Backend API for Frame-Pick — AI-assisted photo culling and best-take selection.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Server.Env)
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx := context.Background()

	// Record store: Postgres, with an in-memory fallback for local
	// development without a database.
	var recordStore store.Store
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		sugar.Warnw("database not available, using in-memory store", "error", err)
		recordStore = store.NewMemoryStore()
	} else {
		defer pool.Close()
		if err := store.Migrate(cfg.Database.URL); err != nil {
			sugar.Fatalw("failed to apply migrations", "error", err)
		}
		recordStore = store.NewPostgresStore(pool)
	}

	// Redis + Asynq
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		sugar.Warnw("redis not available", "error", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Blob store: R2, or in-memory when not configured.
	var blob client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			sugar.Fatalw("failed to initialize R2 client", "error", err)
		}
		blob = r2
	} else {
		sugar.Info("R2 storage not configured, using in-memory storage")
		blob = client.NewMemoryStorage()
	}

	// Model adapter
	visionClient := client.NewVisionClient(&cfg.Vision)
	if !visionClient.IsConfigured() {
		sugar.Warn("vision API key not configured; pipeline runs will fail at the first model call")
	}

	validate := validator.New()

	// WebSocket hub
	hub := ws.NewHub(sugar)
	go hub.Run()

	// Services
	jobService := service.NewJobService(recordStore, blob, asynqClient, sugar)
	queryService := service.NewQueryService(recordStore)

	// Pipeline
	orchestrator := pipeline.NewOrchestrator(recordStore, blob, visionClient, hub, cfg.Pipeline, sugar)

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, queryService, validate)
	uploadHandler := ws.NewUploadHandler(jobService, hub, sugar)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // uploads go over the WebSocket, not the body
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"database": recordStore.Ping(c.Context()) == nil,
				"redis":    redisClient.Ping(c.Context()).Err() == nil,
				"vision":   visionClient.IsConfigured(),
			},
		})
	})

	// Job routes
	jobs := app.Group("/jobs", rateLimiter.RequestLimit(cfg.RateLimit.RequestsPerMin))
	jobs.Get("/", jobHandler.List)
	jobs.Post("/", rateLimiter.JobCreateLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	jobs.Get("/:id", jobHandler.Get)
	jobs.Delete("/:id", jobHandler.Delete)
	jobs.Get("/:id/partial", jobHandler.Partial)
	jobs.Get("/:id/results", jobHandler.Results)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/upload", websocket.New(uploadHandler.Handle))

	// Start Asynq worker server
	go startWorkerServer(cfg, orchestrator, sugar)

	// Re-enqueue jobs interrupted by the previous shutdown
	if err := jobService.RecoverJobs(ctx); err != nil {
		sugar.Errorw("job recovery failed", "error", err)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		sugar.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			sugar.Errorw("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	sugar.Infow("server starting", "addr", addr)
	if err := app.Listen(addr); err != nil {
		sugar.Fatalw("server error", "error", err)
	}
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	switch strings.ToLower(env) {
	case "prod", "production":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}

func startWorkerServer(cfg *config.Config, orchestrator *pipeline.Orchestrator, sugar *zap.SugaredLogger) {
	asynqLogLevel := asynq.InfoLevel
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		asynqLogLevel = asynq.DebugLevel
	case "warn":
		asynqLogLevel = asynq.WarnLevel
	case "error":
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Pipeline.TournamentConcurrency + 2,
			Queues: map[string]int{
				"pipeline": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	pipelineWorker := worker.NewPipelineWorker(orchestrator, sugar)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePipeline, pipelineWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		sugar.Errorw("asynq worker error", "error", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(response.ErrorResponse{
		Error: response.ErrorDetail{
			Code:    response.CodeServiceError,
			Message: message,
		},
	})
}
