// Package fieldresolver looks up loosely named attributes on source items.
//
// Source payloads store the same attribute under drifting names and shapes
// (top-level keys, custom field lists, metadata maps, arbitrarily nested
// objects). Resolve tries each shape in a fixed order and finally asks the
// source for the item's full field set via its self link.
package fieldresolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/pkg/errors"
)

// Fetcher loads the custom fields of one item through its self link.
// Returned keys must be normalized with NormalizeKey.
type Fetcher interface {
	FetchFields(ctx context.Context, selfURL string) (map[string]string, error)
}

// Resolver is scoped to one run: its memo must not outlive the run.
type Resolver struct {
	fetcher Fetcher
	memo    *Memo
	logger  *zap.Logger
}

// New creates a resolver. fetcher may be nil, which disables secondary lookups.
func New(fetcher Fetcher, memo *Memo, logger *zap.Logger) *Resolver {
	if memo == nil {
		memo = NewMemo()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, memo: memo, logger: logger}
}

// Resolve returns the first non-empty value stored under any of names,
// or "" when the attribute is absent. An error means the secondary lookup
// failed and absence could not be established; callers must not treat the
// attribute as unset in that case.
func (r *Resolver) Resolve(ctx context.Context, item *domain.SourceItem, names ...string) (string, error) {
	if item == nil || len(names) == 0 {
		return "", nil
	}
	if v := ResolveInline(item.Raw, names...); v != "" {
		return v, nil
	}
	return r.resolveRemote(ctx, item, names)
}

func (r *Resolver) resolveRemote(ctx context.Context, item *domain.SourceItem, names []string) (string, error) {
	if r.fetcher == nil || item.Self == "" {
		return "", nil
	}
	fields, err := r.memo.Get(ctx, item.Self, func(ctx context.Context) (map[string]string, error) {
		fields, err := r.fetcher.FetchFields(ctx, item.Self)
		if err != nil {
			r.logger.Debug("Secondary field lookup failed",
				zap.String("sku", item.SKU),
				zap.String("self", item.Self),
				zap.Error(err),
			)
		}
		return fields, err
	})
	if err != nil {
		// a self link that may not be followed carries no fields
		var invalid *errors.ErrValidation
		if !stderrors.As(err, &invalid) {
			return "", fmt.Errorf("field lookup for %s: %w", item.SKU, err)
		}
	}
	for _, name := range names {
		if v := fields[NormalizeKey(name)]; v != "" {
			return v, nil
		}
	}
	return "", nil
}

// ResolveInline runs every strategy that needs no network access
func ResolveInline(raw map[string]any, names ...string) string {
	if len(raw) == 0 {
		return ""
	}

	// exact top-level key
	for _, name := range names {
		if v, ok := scalarText(raw[name]); ok {
			return v
		}
	}

	// normalized top-level key
	if v, ok := matchNormalized(raw, names); ok {
		return v
	}

	// list of {name, value}
	list, _ := raw["custom_fields"].([]any)
	if len(list) == 0 {
		list, _ = raw["customFields"].([]any)
	}
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		entryName, _ := scalarText(obj["name"])
		if entryName == "" {
			continue
		}
		key := NormalizeKey(entryName)
		for _, name := range names {
			if key == NormalizeKey(name) {
				if v, ok := scalarText(obj["value"]); ok {
					return v
				}
			}
		}
	}

	// flat metadata map
	if meta, ok := raw["metadata"].(map[string]any); ok {
		if v, ok := matchNormalized(meta, names); ok {
			return v
		}
	}

	if v, ok := newWalker(names).find(raw); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// matchNormalized compares normalized keys of obj against names, in name order
func matchNormalized(obj map[string]any, names []string) (string, bool) {
	keys := slices.Sorted(maps.Keys(obj))
	for _, name := range names {
		want := NormalizeKey(name)
		for _, k := range keys {
			if NormalizeKey(k) != want {
				continue
			}
			if v, ok := scalarText(obj[k]); ok {
				return v, true
			}
		}
	}
	return "", false
}
