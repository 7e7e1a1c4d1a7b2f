package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/autoreel/api/internal/client"
	"github.com/autoreel/api/internal/config"
	"github.com/autoreel/api/internal/handler"
	"github.com/autoreel/api/internal/middleware"
	"github.com/autoreel/api/internal/service"
	"github.com/autoreel/api/internal/store"
	"github.com/autoreel/api/internal/worker"
	ws "github.com/autoreel/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Structured logger
	zapLogger, err := newLogger(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()
	slog := zapLogger.Sugar()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Warnw("Redis not available", "error", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(slog)
	go hub.Run()

	// Stores
	jobStore := store.NewJobStore(redisClient)
	scheduleStore := store.NewScheduleStore(redisClient)
	previewStore := store.NewPreviewStore(redisClient)

	// External clients
	audioClient := client.NewAudioClient(&cfg.Audio)
	if !audioClient.IsConfigured() {
		slog.Warnw("Audio synthesis service not configured, previews use mock output")
	}

	// Services
	jobService := service.NewJobService(jobStore, hub, slog)
	enqueuer := worker.NewAsynqEnqueuer(asynqClient)
	scheduleService := service.NewScheduleService(scheduleStore, jobService, enqueuer, cfg.Scheduler.TickInterval, slog)
	jobService.SetTerminalListener(scheduleService)
	previewService := service.NewPreviewService(previewStore, audioClient, service.PreviewOptions{
		LockTTL:      cfg.Preview.LockTTL,
		LockWait:     cfg.Preview.LockWait,
		PollInterval: cfg.Preview.PollInterval,
	}, slog)

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	scheduleHandler := handler.NewScheduleHandler(scheduleService, validate)
	previewHandler := handler.NewPreviewHandler(previewService, validate)

	// Middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Tenant-Id,X-User-Id",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api", middleware.TenantMiddleware())

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobLimit(cfg.RateLimit.JobsPerMin), jobHandler.Create)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Get)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	// Executor callbacks
	jobs.Post("/:jobId/start", jobHandler.Start)
	jobs.Post("/:jobId/progress", jobHandler.Progress)
	jobs.Post("/:jobId/complete", jobHandler.Complete)
	jobs.Post("/:jobId/fail", jobHandler.Fail)

	// Schedule routes
	schedules := api.Group("/schedules", rateLimiter.ScheduleLimit(cfg.RateLimit.SchedulesPerMin))
	schedules.Post("/", scheduleHandler.Create)
	schedules.Get("/", scheduleHandler.List)
	schedules.Get("/:configId", scheduleHandler.Get)
	schedules.Delete("/:configId", scheduleHandler.Delete)
	schedules.Post("/:configId/run-now", scheduleHandler.RunNow)

	// Audio preview
	audio := api.Group("/audio", rateLimiter.PreviewLimit(cfg.RateLimit.PreviewsPerMin))
	audio.Post("/preview", previewHandler.Preview)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Schedule ticker
	if cfg.Scheduler.Enabled {
		scheduleService.Start(ctx)
		defer scheduleService.Stop()
	}

	// Start Asynq worker server
	go startWorkerServer(cfg, jobService, slog)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Infow("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Errorw("Server shutdown error", "error", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	slog.Infow("Server starting", "addr", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func startWorkerServer(cfg *config.Config, jobService *service.JobService, slog *zap.SugaredLogger) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"compile": 10,
			},
		},
	)

	compileWorker := worker.NewCompileWorker(jobService, 0, slog)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeCompile, compileWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		slog.Errorw("Asynq worker error", "error", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
