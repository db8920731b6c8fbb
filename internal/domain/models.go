package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceItem is one inventory record from the source system (Rackbeat).
// Raw holds the full decoded payload and must be treated as read-only.
type SourceItem struct {
	SKU   string
	Name  string
	Price decimal.Decimal
	Self  string // self link used for secondary field lookups
	Raw   map[string]any
}

// NewSourceItem builds a SourceItem from a decoded source product object
func NewSourceItem(raw map[string]any) *SourceItem {
	item := &SourceItem{Raw: raw}
	item.SKU = strings.TrimSpace(scalarString(raw["number"]))
	item.Name = strings.TrimSpace(scalarString(raw["name"]))
	item.Self = strings.TrimSpace(scalarString(raw["self"]))
	item.Price = parseDecimal(raw["sales_price"])
	return item
}

// EligibilityDecision is derived per run and never persisted
type EligibilityDecision struct {
	Eligible bool
	Group    string
	Reason   string // why the item was excluded; empty when eligible
}

// Metafield is a typed descriptive field on a target product
type Metafield struct {
	ID        int64  `json:"id,omitempty"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// TargetIdentity is what the sync engine knows about an existing target product
type TargetIdentity struct {
	ID          int64
	VariantID   int64 // variant carrying the SKU; zero until known
	SKU         string
	Title       string
	Handle      string
	Price       decimal.Decimal
	ProductType string
	Status      string
}

// TargetItem is a storefront catalog entry to be created on the target
type TargetItem struct {
	TargetIdentity
	ImageURL   string
	Metafields []Metafield
}

// CacheRecord is a denormalized search-cache row mirroring a target product.
// It must be derivable from TargetIdentity plus its metafields.
type CacheRecord struct {
	ProductID int64
	SKU       string
	Title     string
	Handle    string
	Price     decimal.Decimal
	InStock   bool
	GroupName string
	Status    string
	Fields    []Metafield
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IndexEntry maps a normalized alternate identifier to a cache record
type IndexEntry struct {
	Identifier string
	ProductID  int64
	FieldKey   string
}

// SearchHit is one cache record matched by an alternate identifier
type SearchHit struct {
	ProductID  int64           `json:"id"`
	SKU        string          `json:"sku"`
	Title      string          `json:"title"`
	Handle     string          `json:"handle"`
	Price      decimal.Decimal `json:"price"`
	InStock    bool            `json:"in_stock"`
	GroupName  string          `json:"group"`
	FieldKey   string          `json:"metafield_key"`
	FieldValue string          `json:"metafield_value"`
}

// CacheStats reports row counts of the search cache
type CacheStats struct {
	Records      int64 `json:"records"`
	Fields       int64 `json:"fields"`
	IndexEntries int64 `json:"index_entries"`
}

// RunCounters are the per-phase counters of a sync run
type RunCounters struct {
	PagesTotal          int `json:"pages_total"`
	PagesFetched        int `json:"pages_fetched"`
	ItemsScanned        int `json:"items_scanned"`
	IdentitiesLoaded    int `json:"identities_loaded"`
	DuplicateIdentities int `json:"duplicate_identities"`
	Candidates          int `json:"candidates"`
	Excluded            int `json:"excluded"`
	Processed           int `json:"processed"`
	Kept                int `json:"kept"`
	Failed              int `json:"failed"`
	Deleted             int `json:"deleted"`
	DeleteFailed        int `json:"delete_failed"`
}

// RunSummary is returned by POST /sync/full when a run completes
type RunSummary struct {
	SourceTotal  int `json:"source_total"`
	EligibleKept int `json:"eligible_kept"`
	TargetActive int `json:"target_active"`
	Excluded     int `json:"excluded_items"`
	Failed       int `json:"failed_items"`
	Deleted      int `json:"deleted_items"`
}

// RunStatus is a snapshot of the run coordinator state
type RunStatus struct {
	RunID       uuid.UUID   `json:"run_id"`
	Phase       RunPhase    `json:"phase"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Counters    RunCounters `json:"counters"`
	LastMessage string      `json:"last_message"`
	LastError   string      `json:"last_error,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return decimal.NewFromFloat(t).String()
	case int:
		return decimal.NewFromInt(int64(t)).String()
	case int64:
		return decimal.NewFromInt(t).String()
	default:
		return ""
	}
}

func parseDecimal(v any) decimal.Decimal {
	s := strings.TrimSpace(scalarString(v))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return decimal.Zero
	}
	return d
}
