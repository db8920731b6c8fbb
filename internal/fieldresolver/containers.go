package fieldresolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// containerKeys are the attribute names under which source payloads keep
// custom field values.
var containerKeys = []string{
	"custom_fields",
	"customFields",
	"fields",
	"attributes",
	"properties",
	"extra",
	"metafields",
	"field_values",
}

// NormalizeKey folds a field name so that "I_Nettbutikk", "i nettbutikk" and
// "i-nettbutikk" compare equal.
func NormalizeKey(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseContainers flattens every recognizable custom field container of doc
// into normalized name -> value. Containers nested under "data" or "product"
// are included. Entries without a usable name or value are skipped.
func ParseContainers(doc map[string]any) map[string]string {
	out := make(map[string]string)

	var containers []any
	collect := func(obj map[string]any) {
		for _, key := range containerKeys {
			if v, ok := obj[key]; ok && v != nil {
				containers = append(containers, v)
			}
		}
	}
	collect(doc)
	for _, wrapper := range []string{"data", "product"} {
		if nested, ok := doc[wrapper].(map[string]any); ok {
			collect(nested)
		}
	}

	for _, c := range containers {
		switch cont := c.(type) {
		case []any:
			for _, entry := range cont {
				obj, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				name := entryName(obj)
				if name == "" {
					continue
				}
				raw, ok := obj["value"]
				if !ok {
					raw = obj["val"]
				}
				if val, ok := scalarText(raw); ok {
					out[name] = val
				}
			}
		case map[string]any:
			for k, raw := range cont {
				if val, ok := scalarText(raw); ok {
					out[NormalizeKey(k)] = val
				}
			}
		}
	}
	return out
}

// entryName returns the normalized name of a {name|label|key, value} entry,
// falling back to a nested "field" object.
func entryName(obj map[string]any) string {
	for _, k := range []string{"name", "label", "key"} {
		if s, ok := scalarText(obj[k]); ok {
			return NormalizeKey(s)
		}
	}
	if field, ok := obj["field"].(map[string]any); ok {
		for _, k := range []string{"name", "label", "key"} {
			if s, ok := scalarText(field[k]); ok {
				return NormalizeKey(s)
			}
		}
	}
	return ""
}
