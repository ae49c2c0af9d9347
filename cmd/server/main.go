package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/locsync/internal/app"
	"github.com/prudhvinik1/locsync/internal/config"
	"github.com/prudhvinik1/locsync/internal/handlers"
	"github.com/prudhvinik1/locsync/internal/logging"
	"github.com/prudhvinik1/locsync/internal/repositories"
	"github.com/prudhvinik1/locsync/internal/services"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Initialize database connections and services
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	if err := a.StartInvalidator(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start cache invalidator")
	}
	go recoverStuckLoop(ctx, a.Sync, cfg, logger)

	auth := services.NewAuthService(
		repositories.NewPostgresAccountRepository(a.Postgres),
		repositories.NewRedisSessionRepository(a.Redis, logger),
		a.Locations,
		a.Validator,
		logger,
		cfg.JWTSecret,
		cfg.JWTExpiry,
	)

	// Start Server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handlers.NewHandler(auth, a.Locations, a.Local, a.Sync, logger).Routes(),
	}

	// graceful shutdown
	go func() {
		<-ctx.Done()

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.WithField("port", cfg.ServerPort).Info("Starting server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.WithError(err).Fatal("Server error")
	}

	logger.Info("Server stopped gracefully")
}

// recoverStuckLoop resets rows left in syncing by a crashed pass.
func recoverStuckLoop(ctx context.Context, sync *services.SyncService, cfg *config.Config, logger *logrus.Logger) {
	ticker := time.NewTicker(cfg.SyncRecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sync.RecoverStuck(ctx, cfg.SyncStuckTimeout); err != nil {
				logger.WithError(err).Warn("Stuck sync recovery failed")
			}
		}
	}
}
