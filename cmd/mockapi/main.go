package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/config"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/middleware"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/mockapi"
)

func main() {
	// Load configuration; without CONFIG_PATH the defaults apply
	cfg := config.Default()
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// In-memory backend with the demo lesson
	backend := gateway.NewMemory()
	backend.Seed(mockapi.DemoVideo())
	logger.WithVideoID(mockapi.DemoVideoID).Info("demo video seeded")

	if cfg.Server.JWTSecret != "" {
		logger.Info("JWT authentication configured")
	}

	// Rate limiter with background cleanup of idle callers
	var limiter *middleware.RateLimiter
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		go limiter.RunCleanup(cleanupCtx, cfg.Server.RateCleanupInterval, cfg.Server.RateIdleTimeout)
	}

	router := mockapi.NewRouter(backend, cfg.Server, limiter, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting mock API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopCleanup()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
