package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/powertrain/catalogsync/internal/domain"
)

// IdentityIndex maps SKU to the target product that owns it. When several
// target products share a SKU the lowest product id wins and the others are
// recorded as duplicates. The index is read-only once loaded.
type IdentityIndex struct {
	bySKU      map[string]domain.TargetIdentity
	duplicates []domain.TargetIdentity
}

// NewIdentityIndex builds an index from identities; products without a SKU are ignored
func NewIdentityIndex(identities []domain.TargetIdentity) *IdentityIndex {
	ix := &IdentityIndex{bySKU: make(map[string]domain.TargetIdentity, len(identities))}
	for _, id := range identities {
		ix.add(id)
	}
	return ix
}

// LoadIdentityIndex reads every target product page
func LoadIdentityIndex(ctx context.Context, catalog Catalog) (*IdentityIndex, error) {
	ix := &IdentityIndex{bySKU: make(map[string]domain.TargetIdentity)}
	err := catalog.ListProducts(ctx, func(batch []domain.TargetIdentity) error {
		for _, id := range batch {
			ix.add(id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load target identities: %w", err)
	}
	return ix, nil
}

func (ix *IdentityIndex) add(id domain.TargetIdentity) {
	id.SKU = strings.TrimSpace(id.SKU)
	if id.SKU == "" {
		return
	}
	cur, ok := ix.bySKU[id.SKU]
	switch {
	case !ok:
		ix.bySKU[id.SKU] = id
	case id.ID < cur.ID:
		ix.duplicates = append(ix.duplicates, cur)
		ix.bySKU[id.SKU] = id
	default:
		ix.duplicates = append(ix.duplicates, id)
	}
}

// Lookup returns the winning identity for sku
func (ix *IdentityIndex) Lookup(sku string) (domain.TargetIdentity, bool) {
	id, ok := ix.bySKU[strings.TrimSpace(sku)]
	return id, ok
}

// Len is the number of distinct SKUs
func (ix *IdentityIndex) Len() int {
	return len(ix.bySKU)
}

// Identities returns the winning identities ordered by SKU
func (ix *IdentityIndex) Identities() []domain.TargetIdentity {
	out := make([]domain.TargetIdentity, 0, len(ix.bySKU))
	for _, id := range ix.bySKU {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b domain.TargetIdentity) int { return strings.Compare(a.SKU, b.SKU) })
	return out
}

// Duplicates returns the losing identities ordered by product id
func (ix *IdentityIndex) Duplicates() []domain.TargetIdentity {
	out := slices.Clone(ix.duplicates)
	slices.SortFunc(out, func(a, b domain.TargetIdentity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
