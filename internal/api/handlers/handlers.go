package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/service"
	"github.com/powertrain/catalogsync/pkg/errors"
)

// SyncRunner is the run coordinator as seen by the HTTP surface
type SyncRunner interface {
	Run(ctx context.Context) (*domain.RunSummary, error)
	Start(ctx context.Context) (uuid.UUID, error)
	Status() domain.RunStatus
	Preflight(ctx context.Context, pages, samples int) (*service.PreflightReport, error)
	TypeCounts(ctx context.Context) (map[string]*int, error)
}

// CacheService serves the search cache
type CacheService interface {
	Search(ctx context.Context, query string, limit int) ([]domain.SearchHit, error)
	Stats(ctx context.Context) (*domain.CacheStats, error)
	RebuildIndex(ctx context.Context) (int, error)
}

// respondError maps typed errors to status codes
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		conflict   *errors.ErrConflict
		validation *errors.ErrValidation
		notFound   *errors.ErrNotFound
	)
	switch {
	case stderrors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case stderrors.As(err, &validation):
		body := gin.H{"error": validation.Error()}
		if len(validation.Fields) > 0 {
			body["fields"] = validation.Fields
		}
		c.JSON(http.StatusBadRequest, body)
	case stderrors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	default:
		logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
