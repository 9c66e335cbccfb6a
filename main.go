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

	"github.com/joho/godotenv"

	"github.com/Ironbeetle/tcn-member-portal/config"
	"github.com/Ironbeetle/tcn-member-portal/pkg/monitoring"
	"github.com/Ironbeetle/tcn-member-portal/redis"
	v1 "github.com/Ironbeetle/tcn-member-portal/v1"
	v1handlers "github.com/Ironbeetle/tcn-member-portal/v1/handlers"
	v1middleware "github.com/Ironbeetle/tcn-member-portal/v1/middleware"
	v1services "github.com/Ironbeetle/tcn-member-portal/v1/services"
)

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	slog.SetDefault(logger)

	cfg := config.Load()

	slog.Info("Starting member portal sync service")

	dbConfig := v1.NewDatabaseConfig()
	gormDB, err := v1.ConnectGormDB(dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	// The rate limiter runs on Redis when configured so the window holds
	// across portal instances; otherwise it falls back to process memory.
	var limitStore v1middleware.RateLimitStore
	if cfg.RedisAddr != "" {
		redisClient, err := redis.NewClient(&redis.Config{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		limitStore = v1middleware.NewRedisRateLimitStore(redisClient.GetClient())
		slog.Info("Rate limiter using Redis", "addr", cfg.RedisAddr)
	} else {
		limitStore = v1middleware.NewMemoryRateLimitStore()
		slog.Warn("REDIS_ADDR not set; rate limiter using in-process memory")
	}

	syncHandler := v1handlers.NewSyncHandler(gormDB)
	mw := &v1handlers.SyncMiddleware{
		Auth: v1middleware.NewAPIKeyMiddleware(cfg.SyncAPIKey),
		PushLimiter: v1middleware.NewRateLimitMiddleware(
			limitStore, "sync-push", cfg.PushRateLimit, cfg.RateLimitWindow),
		PullLimiter: v1middleware.NewRateLimitMiddleware(
			limitStore, "sync-pull", cfg.PullRateLimit, cfg.RateLimitWindow),
		Audit: v1middleware.NewAuditMiddleware(v1services.NewGormAuditRepository(gormDB)),
	}

	mux := http.NewServeMux()
	syncHandler.SetupSyncRoutes(mux, mw)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"member-portal-sync","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
	})

	// Prometheus metrics
	mux.Handle("/metrics", monitoring.Handler())

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Sync service starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start sync service", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down sync service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Sync service exited")
}
