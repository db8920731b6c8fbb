package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/api"
	"github.com/powertrain/catalogsync/internal/app"
	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/repository/postgres"
	"github.com/powertrain/catalogsync/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting catalog sync server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("drift_policy", string(cfg.Sync.DriftPolicy)),
	)

	// Initialize database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	components := app.New(cfg, db, logger)

	// Sync runs are cancelled on shutdown, not when a request ends
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	router := api.NewRouter(cfg, api.Dependencies{
		Sync:       components.Coordinator,
		Cache:      components.Cache,
		RunContext: runCtx,
	}, logger)

	// Create HTTP server; a synchronous full sync can take many minutes
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	if cfg.Sync.Interval > 0 {
		go service.RunCatalogSyncLoop(runCtx, components.Coordinator, cfg.Sync.Interval, logger)
		logger.Info("Catalog sync job started", zap.Duration("interval", cfg.Sync.Interval))
	}

	logger.Info("Server started successfully", zap.String("address", srv.Addr))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancelRuns()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
