package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/service"
)

// HandleSyncFull handles POST /sync/full. The run is bound to runCtx rather
// than the request so a dropped connection does not cancel it.
// With ?wait=false the run is started in the background and 202 is returned.
func HandleSyncFull(runner SyncRunner, runCtx context.Context, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("wait") == "false" {
			runID, err := runner.Start(runCtx)
			if err != nil {
				respondError(c, logger, err)
				return
			}
			c.JSON(http.StatusAccepted, service.SyncAccepted{RunID: runID.String(), Status: "started"})
			return
		}

		summary, err := runner.Run(runCtx)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// HandleStatus handles GET /status
func HandleStatus(runner SyncRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, runner.Status())
	}
}

// HandlePreflight handles GET /debug/preflight?pages=2&samples=5
func HandlePreflight(runner SyncRunner, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pages := queryInt(c, "pages", 2)
		samples := queryInt(c, "samples", 5)

		report, err := runner.Preflight(c.Request.Context(), pages, samples)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// HandleTypeCounts handles GET /collections/type-counts
func HandleTypeCounts(runner SyncRunner, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := runner.TypeCounts(c.Request.Context())
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, counts)
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
