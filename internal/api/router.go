package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/api/handlers"
	"github.com/powertrain/catalogsync/internal/api/middleware"
	"github.com/powertrain/catalogsync/internal/config"
)

// Dependencies are the services behind the HTTP surface
type Dependencies struct {
	Sync  handlers.SyncRunner
	Cache handlers.CacheService
	// RunContext outlives single requests; sync runs started over HTTP use it
	RunContext context.Context
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.RunContext == nil {
		deps.RunContext = context.Background()
	}

	router := gin.New()

	// Middleware
	router.Use(customRecovery(logger))
	router.Use(loggingMiddleware(logger))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "catalog-sync",
			"endpoints": []string{
				"GET /health",
				"GET /status",
				"POST /sync/full",
				"GET /search/part-number",
				"GET /cache/stats",
				"POST /cache/rebuild-index",
				"GET /debug/preflight",
				"GET /collections/type-counts",
			},
		})
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "catalog-sync"})
	})

	router.GET("/status", handlers.HandleStatus(deps.Sync))
	router.GET("/search/part-number", handlers.HandleSearchPartNumber(deps.Cache, logger))
	router.GET("/cache/stats", handlers.HandleCacheStats(deps.Cache, logger))
	router.GET("/debug/preflight", handlers.HandlePreflight(deps.Sync, logger))
	router.GET("/collections/type-counts", handlers.HandleTypeCounts(deps.Sync, logger))

	// Operator routes (bearer key when ADMIN_API_KEY_HASH is set)
	admin := router.Group("")
	admin.Use(middleware.AdminAuthMiddleware(cfg.API.AdminKeyHash, logger))
	{
		admin.POST("/sync/full", handlers.HandleSyncFull(deps.Sync, deps.RunContext, logger))
		admin.POST("/cache/rebuild-index", handlers.HandleRebuildIndex(deps.Cache, logger))
	}

	return router
}

// customRecovery is a custom recovery middleware that logs panics
func customRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"details": fmt.Sprintf("%v", recovered),
		})
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
