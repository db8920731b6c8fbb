package fieldresolver

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strconv"
)

type nodeKind uint8

const (
	kindScalar nodeKind = iota
	kindObject
	kindArray
)

// node is one position in a decoded JSON tree
type node struct {
	kind   nodeKind
	object map[string]any
	array  []any
	scalar any
}

func classify(v any) node {
	switch t := v.(type) {
	case map[string]any:
		return node{kind: kindObject, object: t}
	case []any:
		return node{kind: kindArray, array: t}
	default:
		return node{kind: kindScalar, scalar: t}
	}
}

// identity of a container node; scalars have none
type nodeID struct {
	kind nodeKind
	ptr  uintptr
	len  int
}

func (n node) id() (nodeID, bool) {
	switch n.kind {
	case kindObject:
		if n.object == nil {
			return nodeID{}, false
		}
		return nodeID{kind: kindObject, ptr: reflect.ValueOf(n.object).Pointer()}, true
	case kindArray:
		if len(n.array) == 0 {
			return nodeID{}, false
		}
		return nodeID{kind: kindArray, ptr: reflect.ValueOf(n.array).Pointer(), len: len(n.array)}, true
	}
	return nodeID{}, false
}

// walker performs the deep search. Every container is visited at most once,
// so shared or cyclic sub-structures terminate.
type walker struct {
	wanted  map[string]struct{}
	visited map[nodeID]struct{}
}

func newWalker(names []string) *walker {
	w := &walker{
		wanted:  make(map[string]struct{}, len(names)),
		visited: make(map[nodeID]struct{}),
	}
	for _, n := range names {
		if k := NormalizeKey(n); k != "" {
			w.wanted[k] = struct{}{}
		}
	}
	return w
}

// find returns the first non-empty value reachable from root whose key, or
// whose {name, value} pair name, matches one of the wanted names.
func (w *walker) find(root any) (string, bool) {
	n := classify(root)
	if id, ok := n.id(); ok {
		if _, seen := w.visited[id]; seen {
			return "", false
		}
		w.visited[id] = struct{}{}
	}

	switch n.kind {
	case kindObject:
		// sorted for a deterministic first match
		keys := slices.Sorted(maps.Keys(n.object))
		for _, k := range keys {
			if _, hit := w.wanted[NormalizeKey(k)]; hit {
				if s, ok := scalarText(n.object[k]); ok {
					return s, true
				}
			}
		}
		if name, ok := scalarText(n.object["name"]); ok {
			if _, hit := w.wanted[NormalizeKey(name)]; hit {
				if s, ok := scalarText(n.object["value"]); ok {
					return s, true
				}
			}
		}
		for _, k := range keys {
			if s, ok := w.find(n.object[k]); ok {
				return s, true
			}
		}
	case kindArray:
		for _, v := range n.array {
			if s, ok := w.find(v); ok {
				return s, true
			}
		}
	}
	return "", false
}

// scalarText renders a JSON scalar; nil, empty strings and containers are not values.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
