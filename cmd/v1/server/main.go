package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/khuphaen/sync-server/internal/v1/api"
	"github.com/khuphaen/sync-server/internal/v1/config"
	"github.com/khuphaen/sync-server/internal/v1/health"
	"github.com/khuphaen/sync-server/internal/v1/logging"
	"github.com/khuphaen/sync-server/internal/v1/middleware"
	"github.com/khuphaen/sync-server/internal/v1/ratelimit"
	"github.com/khuphaen/sync-server/internal/v1/room"
	"github.com/khuphaen/sync-server/internal/v1/session"
	"github.com/khuphaen/sync-server/internal/v1/tracing"
)

const serviceName = "sync-server"

func main() {
	// Load .env for local development. Try multiple paths to handle
	// different ways of running the app.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Development()); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Tracing (optional) ---
	var tracerProvider interface {
		Shutdown(context.Context) error
	}
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		tracerProvider = tp
		slog.Info("Tracing initialized", "endpoint", cfg.OTLPEndpoint)
	}

	// --- Redis (optional, shared rate-limit store) ---
	var redisClient *redis.Client
	if cfg.RedisAddress != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis, falling back to memory store", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			slog.Info("Redis connected", "addr", cfg.RedisAddress)
		}
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Rooms ---
	registry := room.NewRegistry(cfg.RoomIdleTimeout)

	var reaper *room.Reaper
	if cfg.ReapingEnabled() {
		reaper = room.NewReaper(registry)
		reaper.Start()
		slog.Info("Room reaper started", "idle_timeout", cfg.RoomIdleTimeout.String())
	} else {
		slog.Info("Room reaping disabled; empty rooms are kept until process exit")
	}

	hub := session.NewHub(registry)

	// --- Router ---
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.Use(middleware.CorrelationID())
	if tracerProvider != nil {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(limiter.Middleware())

	createBuckets := ratelimit.NewIPBuckets()
	apiHandler := api.NewHandler(registry, createBuckets, cfg.Port)
	healthHandler := health.NewHandler(registry)

	router.GET("/", apiHandler.Root)
	router.GET("/health", healthHandler.Health)
	router.POST("/api/rooms", apiHandler.CreateRoom)
	router.GET("/api/rooms/:room_code", apiHandler.RoomInfo)
	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Sync server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Signal received, starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all live sessions first so peers get close frames.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during hub shutdown", "error", err)
	}

	if reaper != nil {
		reaper.Stop()
	}
	createBuckets.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		}
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down tracer provider", "error", err)
		}
	}

	slog.Info("Server exiting")
}
