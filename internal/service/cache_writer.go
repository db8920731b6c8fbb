package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/repository"
	"github.com/powertrain/catalogsync/pkg/errors"
)

// CacheWriter keeps the search cache and its identifier index in step with the target
type CacheWriter struct {
	repo      repository.CacheRepository
	indexKeys []string
	allow     map[string]struct{}
	logger    *zap.Logger
}

// NewCacheWriter creates a writer that indexes the given field keys
func NewCacheWriter(repo repository.CacheRepository, indexKeys []string, logger *zap.Logger) *CacheWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &CacheWriter{repo: repo, allow: make(map[string]struct{}), logger: logger}
	for _, k := range indexKeys {
		k = strings.TrimSpace(k)
		if k == "" || k == keyNumber {
			continue
		}
		if _, dup := w.allow[k]; dup {
			continue
		}
		w.allow[k] = struct{}{}
		w.indexKeys = append(w.indexKeys, k)
	}
	return w
}

// BuildCacheRecord derives the cache row of a target product
func BuildCacheRecord(identity domain.TargetIdentity, group string, fields []domain.Metafield) *domain.CacheRecord {
	if group == "" {
		group = identity.ProductType
	}
	status := identity.Status
	if status == "" {
		status = domain.ProductStatusActive
	}
	return &domain.CacheRecord{
		ProductID: identity.ID,
		SKU:       identity.SKU,
		Title:     identity.Title,
		Handle:    identity.Handle,
		Price:     identity.Price,
		InStock:   status == domain.ProductStatusActive,
		GroupName: group,
		Status:    status,
		Fields:    fields,
	}
}

// Upsert writes the record, its fields and its index entries atomically
func (w *CacheWriter) Upsert(ctx context.Context, identity domain.TargetIdentity, group string, fields []domain.Metafield) error {
	if identity.ID == 0 || identity.SKU == "" {
		return &errors.ErrValidation{Message: "cache record needs a product id and a sku"}
	}
	rec := BuildCacheRecord(identity, group, fields)
	entries := BuildIndexEntries(identity.ID, fields, w.allow)
	if err := w.repo.UpsertWithIndex(ctx, rec, entries); err != nil {
		return fmt.Errorf("failed to write cache record for %s: %w", identity.SKU, err)
	}
	return nil
}

// Remove drops the cache row of a product together with its fields and index entries
func (w *CacheWriter) Remove(ctx context.Context, productID int64) error {
	return w.repo.DeleteByProductID(ctx, productID)
}

// RebuildIndex recomputes every index entry from the stored records. Running
// it twice yields the same index.
func (w *CacheWriter) RebuildIndex(ctx context.Context) (int, error) {
	records, err := w.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache records: %w", err)
	}
	var entries []domain.IndexEntry
	for _, rec := range records {
		entries = append(entries, BuildIndexEntries(rec.ProductID, rec.Fields, w.allow)...)
	}
	if err := w.repo.ReplaceIndex(ctx, entries); err != nil {
		return 0, fmt.Errorf("failed to replace identifier index: %w", err)
	}
	w.logger.Info("Rebuilt identifier index", zap.Int("records", len(records)), zap.Int("entries", len(entries)))
	return len(entries), nil
}

// Search looks up query in the identifier index. When nothing matches exactly
// it falls back to a substring match over the indexed field values.
func (w *CacheWriter) Search(ctx context.Context, query string, limit int) ([]domain.SearchHit, error) {
	tokens := IdentifierTokens(query)
	if len(tokens) == 0 {
		return nil, &errors.ErrValidation{Message: "query must contain an identifier", Fields: map[string]string{"q": "required"}}
	}
	hits, err := w.repo.SearchByIdentifier(ctx, tokens, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search identifier index: %w", err)
	}
	if len(hits) > 0 {
		return hits, nil
	}

	type key struct {
		productID int64
		field     string
	}
	seen := make(map[key]struct{})
	out := []domain.SearchHit{}
	for _, tok := range tokens {
		partial, err := w.repo.SearchByFieldValue(ctx, tok, w.indexKeys, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to search field values: %w", err)
		}
		for _, h := range partial {
			k := key{h.ProductID, h.FieldKey}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, h)
		}
	}
	return out, nil
}

// Stats reports cache row counts
func (w *CacheWriter) Stats(ctx context.Context) (*domain.CacheStats, error) {
	return w.repo.Stats(ctx)
}
