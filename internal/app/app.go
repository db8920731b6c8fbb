// Package app wires configuration, clients and storage into a sync engine.
package app

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/rackbeat"
	"github.com/powertrain/catalogsync/internal/repository"
	"github.com/powertrain/catalogsync/internal/repository/postgres"
	"github.com/powertrain/catalogsync/internal/retry"
	"github.com/powertrain/catalogsync/internal/service"
	"github.com/powertrain/catalogsync/internal/shopify"
)

// App holds the long-lived components of one process
type App struct {
	Repos       *repository.Repositories
	Source      *rackbeat.Client
	Catalog     *shopify.Client
	Cache       *service.CacheWriter
	Coordinator *service.Coordinator
}

// NewLogger builds the process logger: production encoding in production,
// development otherwise, at LOG_LEVEL.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// RetryPolicy returns the outbound retry policy from configuration
func RetryPolicy(cfg config.SyncConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		p.BaseDelay = cfg.BackoffBase
	}
	if cfg.BackoffMax > 0 {
		p.MaxDelay = cfg.BackoffMax
	}
	return p
}

// New wires every component on top of an open database
func New(cfg *config.Config, db *sql.DB, logger *zap.Logger) *App {
	policy := RetryPolicy(cfg.Sync)
	repos := postgres.NewRepositories(db, logger)
	source := rackbeat.NewClient(cfg.Source, policy, logger.Named("rackbeat"))
	catalog := shopify.NewClient(cfg.Shopify, policy, logger.Named("shopify"))
	cache := service.NewCacheWriter(repos.Cache, cfg.Rules.IndexFieldKeys, logger.Named("cache"))
	coordinator := service.NewCoordinator(
		source,
		catalog,
		cache,
		cfg.Rules,
		service.OptionsFromConfig(cfg),
		logger.Named("sync"),
	)
	return &App{
		Repos:       repos,
		Source:      source,
		Catalog:     catalog,
		Cache:       cache,
		Coordinator: coordinator,
	}
}
