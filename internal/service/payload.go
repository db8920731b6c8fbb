package service

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/eligibility"
)

const (
	metafieldNamespace = domain.MetafieldNamespace
	metafieldTextType  = "single_line_text_field"

	keyNumber       = "number"
	keyGroup        = "Produktgruppe"
	keyPublished    = "i_nettbutikk"
	publishedYes    = "ja"
	publishedNo     = "nei"
	defaultRefField = "original_nummer"
)

// PayloadBuilder maps a source item to the target product it should become
type PayloadBuilder struct {
	fields       eligibility.FieldLookup
	images       map[string]string
	referenceKey string
	supplierKeys []string
}

func NewPayloadBuilder(rules config.RulesConfig, fields eligibility.FieldLookup) *PayloadBuilder {
	ref := strings.TrimSpace(rules.ReferenceFieldKey)
	if ref == "" {
		ref = defaultRefField
	}
	b := &PayloadBuilder{
		fields:       fields,
		images:       rules.CollectionImages,
		referenceKey: ref,
	}
	for _, k := range rules.IndexFieldKeys {
		k = strings.TrimSpace(k)
		if k != "" && k != ref && k != keyNumber {
			b.supplierKeys = append(b.supplierKeys, k)
		}
	}
	return b
}

// ReferenceKey is the metafield key holding the OEM reference numbers
func (b *PayloadBuilder) ReferenceKey() string {
	return b.referenceKey
}

// Build returns the full create payload for item. It fails when a field
// lookup fails, so a payload is never built from a partial view of the item.
func (b *PayloadBuilder) Build(ctx context.Context, item *domain.SourceItem, decision domain.EligibilityDecision) (domain.TargetItem, error) {
	title := item.Name
	if title == "" {
		title = item.SKU
	}
	out := domain.TargetItem{
		TargetIdentity: domain.TargetIdentity{
			SKU:         item.SKU,
			Title:       title,
			Handle:      Slug(item.SKU),
			Price:       item.Price,
			ProductType: decision.Group,
			Status:      domain.ProductStatusActive,
		},
		ImageURL: b.images[decision.Group],
	}

	out.Metafields = append(out.Metafields, textField(keyNumber, item.SKU))
	if decision.Group != "" {
		out.Metafields = append(out.Metafields, textField(keyGroup, decision.Group))
	}
	published := publishedNo
	if decision.Eligible {
		published = publishedYes
	}
	out.Metafields = append(out.Metafields, textField(keyPublished, published))

	ref, err := b.Reference(ctx, item)
	if err != nil {
		return domain.TargetItem{}, err
	}
	if ref != "" {
		out.Metafields = append(out.Metafields, textField(b.referenceKey, ref))
	}
	for _, k := range b.supplierKeys {
		v, err := b.fields.Resolve(ctx, item, k)
		if err != nil {
			return domain.TargetItem{}, err
		}
		if v != "" {
			out.Metafields = append(out.Metafields, textField(k, v))
		}
	}
	return out, nil
}

// Reference resolves the OEM reference numbers of item
func (b *PayloadBuilder) Reference(ctx context.Context, item *domain.SourceItem) (string, error) {
	return b.fields.Resolve(ctx, item, b.referenceKey, "Original_nummer", "Original nummer")
}

func textField(key, value string) domain.Metafield {
	return domain.Metafield{
		Namespace: metafieldNamespace,
		Key:       key,
		Type:      metafieldTextType,
		Value:     value,
	}
}

// Slug turns a SKU into a URL-safe handle: lower-case ASCII letters, digits
// and single hyphens. A SKU with no ASCII letter or digit is hex encoded.
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	if out := strings.TrimSuffix(b.String(), "-"); out != "" {
		return out
	}
	if s = strings.TrimSpace(s); s == "" {
		return ""
	}
	return "sku-" + hex.EncodeToString([]byte(s))
}
