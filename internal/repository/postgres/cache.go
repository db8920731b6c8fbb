package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/pkg/errors"
)

type cacheRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCacheRepository creates a new search cache repository
func NewCacheRepository(db *sql.DB, logger *zap.Logger) *cacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cacheRepository{
		db:     db,
		logger: logger,
	}
}

func (r *cacheRepository) UpsertWithIndex(ctx context.Context, record *domain.CacheRecord, entries []domain.IndexEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// A SKU moves to a new product id when the old target product was
	// replaced; the stale row must go before the unique index rejects the insert.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_records WHERE sku = $1 AND product_id <> $2`,
		record.SKU, record.ProductID,
	); err != nil {
		r.logger.Error("Failed to drop stale cache row", zap.String("sku", record.SKU), zap.Error(err))
		return err
	}

	query := `
		INSERT INTO cache_records (product_id, sku, title, handle, price, in_stock, group_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (product_id) DO UPDATE SET
			sku = EXCLUDED.sku,
			title = EXCLUDED.title,
			handle = EXCLUDED.handle,
			price = EXCLUDED.price,
			in_stock = EXCLUDED.in_stock,
			group_name = EXCLUDED.group_name,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		record.ProductID,
		record.SKU,
		record.Title,
		record.Handle,
		record.Price,
		record.InStock,
		record.GroupName,
		record.Status,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert cache record", zap.String("sku", record.SKU), zap.Error(err))
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_record_fields WHERE product_id = $1`, record.ProductID); err != nil {
		return err
	}
	for _, f := range record.Fields {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_record_fields (product_id, namespace, key, type, value)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (product_id, namespace, key) DO UPDATE SET type = EXCLUDED.type, value = EXCLUDED.value
		`, record.ProductID, f.Namespace, f.Key, f.Type, f.Value)
		if err != nil {
			r.logger.Error("Failed to write cache field", zap.String("sku", record.SKU), zap.String("key", f.Key), zap.Error(err))
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identifier_index WHERE product_id = $1`, record.ProductID); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identifier_index (identifier, product_id, field_key)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, e.Identifier, record.ProductID, e.FieldKey)
		if err != nil {
			r.logger.Error("Failed to write index entry", zap.String("sku", record.SKU), zap.Error(err))
			return err
		}
	}

	return tx.Commit()
}

func (r *cacheRepository) DeleteByProductID(ctx context.Context, productID int64) error {
	// fields and index entries cascade
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_records WHERE product_id = $1`, productID)
	if err != nil {
		r.logger.Error("Failed to delete cache record", zap.Int64("product_id", productID), zap.Error(err))
		return err
	}
	return nil
}

func (r *cacheRepository) GetByProductID(ctx context.Context, productID int64) (*domain.CacheRecord, error) {
	query := `
		SELECT product_id, sku, title, handle, price, in_stock, group_name, status, created_at, updated_at
		FROM cache_records
		WHERE product_id = $1
	`

	var rec domain.CacheRecord
	err := r.db.QueryRowContext(ctx, query, productID).Scan(
		&rec.ProductID,
		&rec.SKU,
		&rec.Title,
		&rec.Handle,
		&rec.Price,
		&rec.InStock,
		&rec.GroupName,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "cache_record", ID: strconv.FormatInt(productID, 10)}
	}
	if err != nil {
		r.logger.Error("Failed to get cache record", zap.Error(err))
		return nil, err
	}

	fields, err := r.fieldsByProduct(ctx, `WHERE product_id = $1`, productID)
	if err != nil {
		return nil, err
	}
	rec.Fields = fields[productID]
	return &rec, nil
}

func (r *cacheRepository) SearchByIdentifier(ctx context.Context, identifiers []string, limit int) ([]domain.SearchHit, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	query := `
		SELECT DISTINCT r.product_id, r.sku, r.title, r.handle, r.price, r.in_stock, r.group_name,
			i.field_key, COALESCE(f.value, '')
		FROM identifier_index i
		JOIN cache_records r ON r.product_id = i.product_id
		LEFT JOIN cache_record_fields f
			ON f.product_id = i.product_id AND f.namespace = $3 AND f.key = i.field_key
		WHERE i.identifier = ANY($1)
		ORDER BY r.sku, i.field_key
		LIMIT $2
	`
	return r.search(ctx, query, pq.Array(identifiers), normalizeLimit(limit), domain.MetafieldNamespace)
}

func (r *cacheRepository) SearchByFieldValue(ctx context.Context, fragment string, fieldKeys []string, limit int) ([]domain.SearchHit, error) {
	if fragment == "" || len(fieldKeys) == 0 {
		return nil, nil
	}
	query := `
		SELECT DISTINCT r.product_id, r.sku, r.title, r.handle, r.price, r.in_stock, r.group_name,
			f.key, f.value
		FROM cache_record_fields f
		JOIN cache_records r ON r.product_id = f.product_id
		WHERE f.namespace = $4
			AND f.key = ANY($1)
			AND REPLACE(UPPER(f.value), ' ', '') LIKE '%' || $2 || '%'
		ORDER BY r.sku, f.key
		LIMIT $3
	`
	return r.search(ctx, query, pq.Array(fieldKeys), escapeLike(fragment), normalizeLimit(limit), domain.MetafieldNamespace)
}

func (r *cacheRepository) search(ctx context.Context, query string, args ...any) ([]domain.SearchHit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to search cache", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	hits := []domain.SearchHit{}
	for rows.Next() {
		var h domain.SearchHit
		if err := rows.Scan(
			&h.ProductID,
			&h.SKU,
			&h.Title,
			&h.Handle,
			&h.Price,
			&h.InStock,
			&h.GroupName,
			&h.FieldKey,
			&h.FieldValue,
		); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (r *cacheRepository) ListAll(ctx context.Context) ([]*domain.CacheRecord, error) {
	query := `
		SELECT product_id, sku, title, handle, price, in_stock, group_name, status, created_at, updated_at
		FROM cache_records
		ORDER BY product_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list cache records", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var records []*domain.CacheRecord
	for rows.Next() {
		var rec domain.CacheRecord
		if err := rows.Scan(
			&rec.ProductID,
			&rec.SKU,
			&rec.Title,
			&rec.Handle,
			&rec.Price,
			&rec.InStock,
			&rec.GroupName,
			&rec.Status,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fields, err := r.fieldsByProduct(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.Fields = fields[rec.ProductID]
	}
	return records, nil
}

func (r *cacheRepository) fieldsByProduct(ctx context.Context, where string, args ...any) (map[int64][]domain.Metafield, error) {
	query := `SELECT product_id, namespace, key, type, value FROM cache_record_fields ` + where + ` ORDER BY product_id, namespace, key`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to load cache fields", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.Metafield)
	for rows.Next() {
		var (
			productID int64
			f         domain.Metafield
		)
		if err := rows.Scan(&productID, &f.Namespace, &f.Key, &f.Type, &f.Value); err != nil {
			return nil, err
		}
		out[productID] = append(out[productID], f)
	}
	return out, rows.Err()
}

func (r *cacheRepository) ReplaceIndex(ctx context.Context, entries []domain.IndexEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM identifier_index`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("identifier_index", "identifier", "product_id", "field_key"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	type key struct {
		identifier string
		productID  int64
		fieldKey   string
	}
	seen := make(map[key]struct{}, len(entries))
	for _, e := range entries {
		k := key{e.Identifier, e.ProductID, e.FieldKey}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, err := stmt.ExecContext(ctx, e.Identifier, e.ProductID, e.FieldKey); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy index entry: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush index copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Info("Identifier index rebuilt", zap.Int("entries", len(seen)))
	return nil
}

func (r *cacheRepository) Stats(ctx context.Context) (*domain.CacheStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM cache_records),
			(SELECT COUNT(*) FROM cache_record_fields),
			(SELECT COUNT(*) FROM identifier_index)
	`
	var s domain.CacheStats
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.Records, &s.Fields, &s.IndexEntries); err != nil {
		r.logger.Error("Failed to read cache stats", zap.Error(err))
		return nil, err
	}
	return &s, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
