package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/service"
)

// HandleSearchPartNumber handles GET /search/part-number?part_number=X
func HandleSearchPartNumber(cache CacheService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		partNumber := strings.TrimSpace(c.Query("part_number"))
		if partNumber == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing part number"})
			return
		}
		limit := queryInt(c, "limit", 0)

		hits, err := cache.Search(c.Request.Context(), partNumber, limit)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"part_number": partNumber,
			"count":       len(hits),
			"products":    hits,
		})
	}
}

// HandleCacheStats handles GET /cache/stats
func HandleCacheStats(cache CacheService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := cache.Stats(c.Request.Context())
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// HandleRebuildIndex handles POST /cache/rebuild-index
func HandleRebuildIndex(cache CacheService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := cache.RebuildIndex(c.Request.Context())
		if err != nil {
			respondError(c, logger, err)
			return
		}
		logger.Info("Identifier index rebuilt via API", zap.Int("entries", n))
		c.JSON(http.StatusOK, service.IndexRebuildResult{Entries: n})
	}
}
