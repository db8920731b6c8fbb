package service

import (
	"strings"
	"unicode"

	"github.com/powertrain/catalogsync/internal/domain"
)

// IdentifierTokens splits a comma separated identifier list into normalized
// tokens: upper-case, no whitespace, no duplicates, in input order.
func IdentifierTokens(value string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(value, ",") {
		tok := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return unicode.ToUpper(r)
		}, part)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// BuildIndexEntries derives index entries from the allow-listed fields of
// one product. The SKU field ("number") is never indexed.
func BuildIndexEntries(productID int64, fields []domain.Metafield, allow map[string]struct{}) []domain.IndexEntry {
	var out []domain.IndexEntry
	type key struct{ identifier, field string }
	seen := make(map[key]struct{})
	for _, f := range fields {
		if f.Key == keyNumber || f.Namespace != metafieldNamespace {
			continue
		}
		if _, ok := allow[f.Key]; !ok {
			continue
		}
		for _, tok := range IdentifierTokens(f.Value) {
			k := key{tok, f.Key}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, domain.IndexEntry{Identifier: tok, ProductID: productID, FieldKey: f.Key})
		}
	}
	return out
}
