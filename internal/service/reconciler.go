package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/pkg/errors"
)

// ReconcileResult is the outcome of one item. Identity is set whenever the
// target product exists, even if a later step failed. Action is empty when
// nothing was attempted on the target.
type ReconcileResult struct {
	Identity domain.TargetIdentity
	Action   domain.ReconcileAction
	Writes   int // target write calls issued
}

// Reconciler makes one eligible source item exist on the target
type Reconciler struct {
	catalog     Catalog
	payloads    *PayloadBuilder
	cache       *CacheWriter
	collections *CollectionResolver
	logger      *zap.Logger
}

func NewReconciler(catalog Catalog, payloads *PayloadBuilder, cache *CacheWriter, collections *CollectionResolver, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		catalog:     catalog,
		payloads:    payloads,
		cache:       cache,
		collections: collections,
		logger:      logger,
	}
}

// Reconcile creates the item when index has no product for its SKU, otherwise
// brings the existing product up to date. Unchanged products cost one
// metafield read and no writes. The search cache is refreshed either way and
// collection membership is ensured on a best-effort basis.
func (r *Reconciler) Reconcile(ctx context.Context, item *domain.SourceItem, decision domain.EligibilityDecision, index *IdentityIndex) (ReconcileResult, error) {
	if !decision.Eligible {
		return ReconcileResult{}, &errors.ErrValidation{Message: fmt.Sprintf("item %s is not eligible", item.SKU)}
	}
	if item.SKU == "" {
		return ReconcileResult{}, &errors.ErrValidation{Message: "item has no sku"}
	}

	existing, found := index.Lookup(item.SKU)
	desired, err := r.payloads.Build(ctx, item, decision)
	if err != nil {
		// the product stays as it is; its identity keeps it out of drift cleanup
		var res ReconcileResult
		if found {
			res.Identity = existing
		}
		return res, fmt.Errorf("failed to build payload for %s: %w", item.SKU, err)
	}

	var (
		res    ReconcileResult
		fields []domain.Metafield
	)
	if found {
		res, fields, err = r.update(ctx, existing, desired)
	} else {
		res, fields, err = r.create(ctx, desired)
	}
	if err != nil {
		return res, err
	}

	if err := r.cache.Upsert(ctx, res.Identity, decision.Group, fields); err != nil {
		return res, err
	}

	if r.collections != nil {
		added, err := r.collections.Ensure(ctx, res.Identity.ID, decision.Group)
		if err != nil {
			if errors.IsUnauthorized(err) {
				return res, err
			}
			r.logger.Warn("Collection assignment failed", zap.String("sku", item.SKU), zap.String("group", decision.Group), zap.Error(err))
		} else if added {
			res.Writes++
		}
	}
	return res, nil
}

func (r *Reconciler) create(ctx context.Context, desired domain.TargetItem) (ReconcileResult, []domain.Metafield, error) {
	created, err := r.catalog.CreateProduct(ctx, desired)
	if err != nil {
		return ReconcileResult{}, nil, fmt.Errorf("failed to create product %s: %w", desired.SKU, err)
	}
	identity := mergeIdentity(created, desired.TargetIdentity)
	r.logger.Info("Created product", zap.String("sku", identity.SKU), zap.Int64("product_id", identity.ID))
	return ReconcileResult{Identity: identity, Action: domain.ReconcileActionCreated, Writes: 1}, desired.Metafields, nil
}

func (r *Reconciler) update(ctx context.Context, existing domain.TargetIdentity, desired domain.TargetItem) (ReconcileResult, []domain.Metafield, error) {
	res := ReconcileResult{Identity: existing, Action: domain.ReconcileActionUnchanged}

	current, err := r.catalog.ListProductMetafields(ctx, existing.ID)
	if err != nil {
		return res, nil, fmt.Errorf("failed to read metafields of %s: %w", existing.SKU, err)
	}
	fields := current

	refKey := r.payloads.ReferenceKey()
	if want := fieldValue(desired.Metafields, refKey); want != "" && fieldValue(current, refKey) == "" {
		mf := textField(refKey, want)
		createdField, err := r.catalog.CreateProductMetafield(ctx, existing.ID, mf)
		if err != nil {
			return res, fields, fmt.Errorf("failed to backfill %s on %s: %w", refKey, existing.SKU, err)
		}
		if createdField.Value == "" {
			createdField = mf
		}
		fields = append(fields, createdField)
		res.Writes++
	}

	if baseFieldsDiffer(existing, desired.TargetIdentity) {
		next := existing
		next.Title = desired.Title
		next.ProductType = desired.ProductType
		if existing.VariantID != 0 {
			next.Price = desired.Price
		}
		if err := r.catalog.UpdateProduct(ctx, next); err != nil {
			return res, fields, fmt.Errorf("failed to update product %s: %w", existing.SKU, err)
		}
		res.Identity = next
		res.Writes++
	}

	// an item drafted by an earlier run is eligible again
	if existing.Status != "" && existing.Status != domain.ProductStatusActive {
		if err := r.catalog.SetProductStatus(ctx, existing.ID, domain.ProductStatusActive); err != nil {
			return res, fields, fmt.Errorf("failed to reactivate product %s: %w", existing.SKU, err)
		}
		res.Identity.Status = domain.ProductStatusActive
		res.Writes++
	}

	if res.Writes > 0 {
		res.Action = domain.ReconcileActionUpdated
	}
	return res, fields, nil
}

func baseFieldsDiffer(existing, desired domain.TargetIdentity) bool {
	if strings.TrimSpace(existing.Title) != strings.TrimSpace(desired.Title) {
		return true
	}
	if existing.ProductType != desired.ProductType {
		return true
	}
	return existing.VariantID != 0 && !existing.Price.Equal(desired.Price)
}

// mergeIdentity fills fields the create response left empty from the payload
func mergeIdentity(got, sent domain.TargetIdentity) domain.TargetIdentity {
	if got.SKU == "" {
		got.SKU = sent.SKU
	}
	if got.Title == "" {
		got.Title = sent.Title
	}
	if got.Handle == "" {
		got.Handle = sent.Handle
	}
	if got.ProductType == "" {
		got.ProductType = sent.ProductType
	}
	if got.Status == "" {
		got.Status = sent.Status
	}
	if got.Price.IsZero() {
		got.Price = sent.Price
	}
	return got
}

func fieldValue(fields []domain.Metafield, key string) string {
	for _, f := range fields {
		if f.Key == key && strings.TrimSpace(f.Value) != "" {
			return f.Value
		}
	}
	return ""
}
