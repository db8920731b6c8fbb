package service

import (
	"context"
	"slices"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/powertrain/catalogsync/internal/domain"
)

func TestIdentifierTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"123", []string{"123"}},
		{"ab 12-3, 456 ,AB12-3", []string{"AB12-3", "456"}},
		{" , ,", nil},
		{"7n0 407 271\t", []string{"7N0407271"}},
	}
	for _, tt := range tests {
		if got := IdentifierTokens(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("IdentifierTokens(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildIndexEntries_OnlyAllowListedFields(t *testing.T) {
	allow := map[string]struct{}{"original_nummer": {}, "welte_varenummer": {}, "number": {}}
	fields := []domain.Metafield{
		textField("number", "DA-1"),
		textField("original_nummer", "123, 456, 123"),
		textField("welte_varenummer", "w 9"),
		textField("Produktgruppe", "Drivaksler"),
		{Namespace: "global", Key: "original_nummer", Type: "single_line_text_field", Value: "999"},
	}

	entries := BuildIndexEntries(10, fields, allow)
	var got []string
	for _, e := range entries {
		if e.ProductID != 10 {
			t.Errorf("entry %+v has wrong product id", e)
		}
		got = append(got, e.FieldKey+":"+e.Identifier)
	}
	want := []string{"original_nummer:123", "original_nummer:456", "welte_varenummer:W9"}
	if !slices.Equal(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"DA-1":          "da-1",
		" Drivaksel 12": "drivaksel-12",
		"A/B__C":        "a-b-c",
		"--x--":         "x",
		"ÆØÅ 1":         "1",
		"ÆØÅ":           "sku-c386c398c385",
		" -- ":          "sku-2d2d",
		"   ":           "",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCacheWriter_IndexMatchesFieldsAfterRebuild(t *testing.T) {
	cache := newMemCache()
	w := NewCacheWriter(cache, []string{"original_nummer", "number"}, nil)
	ctx := context.Background()

	identity := domain.TargetIdentity{ID: 7, SKU: "DA-7", Title: "A", Price: decimal.NewFromInt(5), Status: domain.ProductStatusDraft}
	fields := []domain.Metafield{textField("number", "DA-7"), textField("original_nummer", "x1, X 2")}
	if err := w.Upsert(ctx, identity, groupA, fields); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec, _ := cache.GetByProductID(ctx, 7)
	if rec.InStock || rec.GroupName != groupA {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := cache.identifiers(7); !slices.Equal(got, []string{"X1", "X2"}) {
		t.Fatalf("identifiers = %v", got)
	}

	for i := 0; i < 2; i++ {
		n, err := w.RebuildIndex(ctx)
		if err != nil || n != 2 {
			t.Fatalf("RebuildIndex = %d, %v", n, err)
		}
		if got := cache.identifiers(7); !slices.Equal(got, []string{"X1", "X2"}) {
			t.Fatalf("identifiers after rebuild = %v", got)
		}
	}
}

func TestCacheWriter_SearchFallsBackToSubstring(t *testing.T) {
	cache := newMemCache()
	w := NewCacheWriter(cache, []string{"original_nummer"}, nil)
	ctx := context.Background()

	identity := domain.TargetIdentity{ID: 1, SKU: "DA-1", Status: domain.ProductStatusActive}
	if err := w.Upsert(ctx, identity, groupA, []domain.Metafield{textField("original_nummer", "7N0 407 271, 8K0")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := w.Search(ctx, "7n0407271", 10)
	if err != nil || len(hits) != 1 || hits[0].SKU != "DA-1" {
		t.Fatalf("exact search = %+v, %v", hits, err)
	}
	hits, err = w.Search(ctx, "407 27", 10)
	if err != nil || len(hits) != 1 || hits[0].FieldKey != "original_nummer" {
		t.Fatalf("substring search = %+v, %v", hits, err)
	}
	hits, err = w.Search(ctx, "DA-1", 10)
	if err != nil || len(hits) != 0 {
		t.Fatalf("sku must not be searchable through the index, got %+v", hits)
	}
	if _, err := w.Search(ctx, " , ", 10); err == nil {
		t.Fatal("expected validation error for empty query")
	}
}
