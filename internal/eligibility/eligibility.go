// Package eligibility decides which source items belong in the storefront.
package eligibility

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/domain"
)

// Exclusion reasons reported on EligibilityDecision.Reason
const (
	ReasonNoGroup      = "no recognized group"
	ReasonGroupBlocked = "group not allowed"
	ReasonNotPublished = "publish flag not set"
)

// FieldLookup resolves a loosely named attribute; "" means absent. An error
// means the attribute could not be looked up, which is not the same as absent.
type FieldLookup interface {
	Resolve(ctx context.Context, item *domain.SourceItem, names ...string) (string, error)
}

type Rules struct {
	GroupsByNumber map[string]string
	AllowedGroups  map[string]struct{}
	PublishFields  []string
	TruthyTokens   map[string]struct{}
}

// NewRules builds rules from configuration
func NewRules(cfg config.RulesConfig) Rules {
	r := Rules{
		GroupsByNumber: make(map[string]string, len(cfg.GroupsByNumber)),
		AllowedGroups:  toSet(cfg.AllowedGroups, false),
		PublishFields:  append([]string(nil), cfg.PublishFields...),
		TruthyTokens:   toSet(cfg.TruthyTokens, true),
	}
	for number, group := range cfg.GroupsByNumber {
		r.GroupsByNumber[strings.TrimSpace(number)] = group
	}
	return r
}

func toSet(values []string, fold bool) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold {
			v = strings.ToLower(v)
		}
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// Group maps the item's nested group.number to a group label.
// There is no fallback: an absent or unknown number yields "".
func (r Rules) Group(item *domain.SourceItem) string {
	if item == nil {
		return ""
	}
	g, ok := item.Raw["group"].(map[string]any)
	if !ok {
		return ""
	}
	number := groupNumber(g["number"])
	if number == "" {
		return ""
	}
	return r.GroupsByNumber[number]
}

func groupNumber(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// Allowed reports whether group is in the allow-set
func (r Rules) Allowed(group string) bool {
	_, ok := r.AllowedGroups[group]
	return group != "" && ok
}

// Truthy parses a publish flag value
func (r Rules) Truthy(value string) bool {
	return ParseTruthy(value, r.TruthyTokens)
}

// ParseTruthy reports whether value is one of tokens, ignoring case and
// surrounding whitespace. tokens must be lower-case.
func ParseTruthy(value string, tokens map[string]struct{}) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	_, ok := tokens[v]
	return ok
}

// Resolver evaluates Rules against source items
type Resolver struct {
	rules  Rules
	fields FieldLookup
}

func NewResolver(rules Rules, fields FieldLookup) *Resolver {
	return &Resolver{rules: rules, fields: fields}
}

// Rules returns the rules this resolver applies
func (r *Resolver) Rules() Rules {
	return r.rules
}

// Decide checks the group first; the publish flag is only looked up for
// items whose group is allowed, since that lookup may cost a network call.
// When the flag cannot be looked up no decision is made and the lookup error
// is returned with the item's group.
func (r *Resolver) Decide(ctx context.Context, item *domain.SourceItem) (domain.EligibilityDecision, error) {
	group := r.rules.Group(item)
	if group == "" {
		return domain.EligibilityDecision{Reason: ReasonNoGroup}, nil
	}
	if !r.rules.Allowed(group) {
		return domain.EligibilityDecision{Group: group, Reason: ReasonGroupBlocked}, nil
	}
	flag, err := r.fields.Resolve(ctx, item, r.rules.PublishFields...)
	if err != nil {
		return domain.EligibilityDecision{Group: group}, err
	}
	if !r.rules.Truthy(flag) {
		return domain.EligibilityDecision{Group: group, Reason: ReasonNotPublished}, nil
	}
	return domain.EligibilityDecision{Eligible: true, Group: group}, nil
}
