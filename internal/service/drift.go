package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/pkg/errors"
)

// CleanupResult counts what the drift cleaner did
type CleanupResult struct {
	Deleted int // removed or drafted
	Failed  int
	Skipped int // already gone or already drafted
}

// DriftCleaner removes target products that are no longer eligible
type DriftCleaner struct {
	catalog     Catalog
	cache       *CacheWriter
	policy      domain.DriftPolicy
	concurrency int
	logger      *zap.Logger
}

func NewDriftCleaner(catalog Catalog, cache *CacheWriter, policy domain.DriftPolicy, concurrency int, logger *zap.Logger) *DriftCleaner {
	if !policy.IsValid() {
		policy = domain.DriftPolicyDelete
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriftCleaner{
		catalog:     catalog,
		cache:       cache,
		policy:      policy,
		concurrency: concurrency,
		logger:      logger,
	}
}

type driftTarget struct {
	identity  domain.TargetIdentity
	duplicate bool
}

// driftTargets lists every identity whose SKU is not kept, then every
// duplicate identity.
func driftTargets(kept map[string]struct{}, index *IdentityIndex) []driftTarget {
	var out []driftTarget
	for _, id := range index.Identities() {
		if _, ok := kept[id.SKU]; !ok {
			out = append(out, driftTarget{identity: id})
		}
	}
	for _, id := range index.Duplicates() {
		out = append(out, driftTarget{identity: id, duplicate: true})
	}
	return out
}

// Cleanup applies the drift policy to every target. Duplicates are always
// deleted so that no two products keep the same SKU. Per-item failures are
// counted; ErrUnauthorized and cancellation stop the cleanup. onProgress may be nil.
func (d *DriftCleaner) Cleanup(ctx context.Context, kept map[string]struct{}, index *IdentityIndex, onProgress func(CleanupResult)) (CleanupResult, error) {
	var (
		mu  sync.Mutex
		res CleanupResult
	)
	record := func(apply func(*CleanupResult)) {
		mu.Lock()
		apply(&res)
		snapshot := res
		mu.Unlock()
		if onProgress != nil {
			onProgress(snapshot)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, t := range driftTargets(kept, index) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			skipped, err := d.remove(gctx, t)
			switch {
			case err == nil && skipped:
				record(func(r *CleanupResult) { r.Skipped++ })
			case err == nil:
				record(func(r *CleanupResult) { r.Deleted++ })
			case errors.IsUnauthorized(err):
				return err
			default:
				record(func(r *CleanupResult) { r.Failed++ })
				d.logger.Warn("Drift cleanup failed",
					zap.String("sku", t.identity.SKU),
					zap.Int64("product_id", t.identity.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return res, err
}

func (d *DriftCleaner) remove(ctx context.Context, t driftTarget) (skipped bool, err error) {
	id := t.identity
	if d.policy == domain.DriftPolicyDraft && !t.duplicate {
		if id.Status == domain.ProductStatusDraft {
			skipped = true
		} else if err := d.catalog.SetProductStatus(ctx, id.ID, domain.ProductStatusDraft); err != nil {
			if !errors.IsNotFound(err) {
				return false, fmt.Errorf("failed to draft product %d: %w", id.ID, err)
			}
			skipped = true
		}
	} else if err := d.catalog.DeleteProduct(ctx, id.ID); err != nil {
		if !errors.IsNotFound(err) {
			return false, fmt.Errorf("failed to delete product %d: %w", id.ID, err)
		}
		skipped = true
	}

	if d.cache != nil {
		if err := d.cache.Remove(ctx, id.ID); err != nil {
			return skipped, fmt.Errorf("failed to drop cache row of %d: %w", id.ID, err)
		}
	}
	if !skipped {
		d.logger.Info("Removed stale product",
			zap.String("sku", id.SKU),
			zap.Int64("product_id", id.ID),
			zap.String("policy", string(d.policy)),
			zap.Bool("duplicate", t.duplicate),
		)
	}
	return skipped, nil
}
