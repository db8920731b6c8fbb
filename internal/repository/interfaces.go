package repository

import (
	"context"

	"github.com/powertrain/catalogsync/internal/domain"
)

// CacheRepository defines search cache data access methods
type CacheRepository interface {
	// UpsertWithIndex writes the record, its fields and its index entries in one
	// transaction. Existing index entries of the record are replaced.
	UpsertWithIndex(ctx context.Context, record *domain.CacheRecord, entries []domain.IndexEntry) error
	DeleteByProductID(ctx context.Context, productID int64) error
	GetByProductID(ctx context.Context, productID int64) (*domain.CacheRecord, error)
	SearchByIdentifier(ctx context.Context, identifiers []string, limit int) ([]domain.SearchHit, error)
	SearchByFieldValue(ctx context.Context, fragment string, fieldKeys []string, limit int) ([]domain.SearchHit, error)
	ListAll(ctx context.Context) ([]*domain.CacheRecord, error)
	// ReplaceIndex drops every index entry and inserts entries in one transaction
	ReplaceIndex(ctx context.Context, entries []domain.IndexEntry) error
	Stats(ctx context.Context) (*domain.CacheStats, error)
}

// Repositories aggregates all repositories
type Repositories struct {
	Cache CacheRepository
}
