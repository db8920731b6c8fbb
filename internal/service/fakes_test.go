package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/rackbeat"
	"github.com/powertrain/catalogsync/pkg/errors"
)

const (
	groupA = "Drivaksler"
	groupB = "Bremser"
)

func testRulesConfig() config.RulesConfig {
	return config.RulesConfig{
		GroupsByNumber:    map[string]string{"1010": groupA, "2000": groupB},
		AllowedGroups:     []string{groupA},
		PublishFields:     []string{"i_nettbutikk", "i nettbutikk"},
		TruthyTokens:      []string{"ja", "yes"},
		ReferenceFieldKey: "original_nummer",
		IndexFieldKeys:    []string{"original_nummer", "welte_varenummer"},
		CollectionImages:  map[string]string{groupA: "https://cdn.example.com/drivaksel.png"},
	}
}

func rawItem(sku, groupNumber, flag, oem string) map[string]any {
	raw := map[string]any{
		"number":       sku,
		"name":         "Part " + sku,
		"sales_price":  "100,00",
		"i_nettbutikk": flag,
	}
	if groupNumber != "" {
		n, _ := strconv.Atoi(groupNumber)
		raw["group"] = map[string]any{"number": n}
	}
	if oem != "" {
		raw["original_nummer"] = oem
	}
	return raw
}

// fakeSource serves fixed pages; Pages always reports len(pages)
type fakeSource struct {
	mu     sync.Mutex
	pages  [][]map[string]any
	block  chan struct{}
	calls  int
	fields map[string]map[string]string

	fieldsErr  error
	fieldCalls int
}

func (s *fakeSource) Page(ctx context.Context, page, limit int) (*rackbeat.Page, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := &rackbeat.Page{Pages: len(s.pages)}
	if page < 1 || page > len(s.pages) {
		return out, nil
	}
	for _, raw := range s.pages[page-1] {
		out.Items = append(out.Items, domain.NewSourceItem(raw))
	}
	return out, nil
}

func (s *fakeSource) FetchFields(ctx context.Context, selfURL string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldCalls++
	if s.fieldsErr != nil {
		return nil, s.fieldsErr
	}
	return s.fields[selfURL], nil
}

func (s *fakeSource) setFlag(sku, flag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, page := range s.pages {
		for _, raw := range page {
			if raw["number"] == sku {
				raw["i_nettbutikk"] = flag
			}
		}
	}
}

type fakeProduct struct {
	identity   domain.TargetIdentity
	metafields []domain.Metafield
}

// fakeCatalog is an in-memory target that counts every write call
type fakeCatalog struct {
	mu          sync.Mutex
	nextID      int64
	products    map[int64]*fakeProduct
	collections map[string]int64
	collects    map[[2]int64]bool

	writes          int
	createErr       error
	beforeCreate    func()
	collectionFinds int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		nextID:      1000,
		products:    make(map[int64]*fakeProduct),
		collections: make(map[string]int64),
		collects:    make(map[[2]int64]bool),
	}
}

// seed adds a product without counting a write
func (c *fakeCatalog) seed(id int64, sku, status string, fields ...domain.Metafield) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[id] = &fakeProduct{
		identity: domain.TargetIdentity{
			ID:          id,
			VariantID:   id + 1,
			SKU:         sku,
			Title:       "Part " + sku,
			Handle:      Slug(sku),
			Price:       decimal.NewFromInt(100),
			ProductType: groupA,
			Status:      status,
		},
		metafields: fields,
	}
}

func (c *fakeCatalog) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *fakeCatalog) skus() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.products {
		out = append(out, p.identity.SKU)
	}
	slices.Sort(out)
	return out
}

func (c *fakeCatalog) bySKU(sku string) (domain.TargetIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p.identity.SKU == sku {
			return p.identity, true
		}
	}
	return domain.TargetIdentity{}, false
}

func (c *fakeCatalog) notFound(id int64) error {
	return &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(id, 10)}
}

func (c *fakeCatalog) ListProducts(ctx context.Context, fn func([]domain.TargetIdentity) error) error {
	c.mu.Lock()
	var batch []domain.TargetIdentity
	for _, p := range c.products {
		batch = append(batch, p.identity)
	}
	c.mu.Unlock()
	slices.SortFunc(batch, func(a, b domain.TargetIdentity) int { return int(a.ID - b.ID) })
	return fn(batch)
}

func (c *fakeCatalog) CreateProduct(ctx context.Context, item domain.TargetItem) (domain.TargetIdentity, error) {
	if c.beforeCreate != nil {
		c.beforeCreate()
	}
	if err := ctx.Err(); err != nil {
		return domain.TargetIdentity{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return domain.TargetIdentity{}, c.createErr
	}
	c.writes++
	c.nextID += 10
	id := item.TargetIdentity
	id.ID = c.nextID
	id.VariantID = c.nextID + 1
	c.products[id.ID] = &fakeProduct{identity: id, metafields: slices.Clone(item.Metafields)}
	return id, nil
}

func (c *fakeCatalog) UpdateProduct(ctx context.Context, identity domain.TargetIdentity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[identity.ID]
	if !ok {
		return c.notFound(identity.ID)
	}
	c.writes++
	p.identity.Title = identity.Title
	p.identity.ProductType = identity.ProductType
	p.identity.Price = identity.Price
	return nil
}

func (c *fakeCatalog) SetProductStatus(ctx context.Context, productID int64, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return c.notFound(productID)
	}
	c.writes++
	p.identity.Status = status
	return nil
}

func (c *fakeCatalog) DeleteProduct(ctx context.Context, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[productID]; !ok {
		return c.notFound(productID)
	}
	c.writes++
	delete(c.products, productID)
	return nil
}

func (c *fakeCatalog) ListProductMetafields(ctx context.Context, productID int64) ([]domain.Metafield, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, c.notFound(productID)
	}
	return slices.Clone(p.metafields), nil
}

func (c *fakeCatalog) CreateProductMetafield(ctx context.Context, productID int64, mf domain.Metafield) (domain.Metafield, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return domain.Metafield{}, c.notFound(productID)
	}
	c.writes++
	mf.ID = int64(len(p.metafields) + 1)
	p.metafields = append(p.metafields, mf)
	return mf, nil
}

func (c *fakeCatalog) CountProducts(ctx context.Context, productType string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.products {
		if productType == "" || p.identity.ProductType == productType {
			n++
		}
	}
	return n, nil
}

func (c *fakeCatalog) FindCustomCollection(ctx context.Context, title string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectionFinds++
	id, ok := c.collections[title]
	return id, ok, nil
}

func (c *fakeCatalog) CreateCustomCollection(ctx context.Context, title, imageURL string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	id := int64(500 + len(c.collections))
	c.collections[title] = id
	return id, nil
}

func (c *fakeCatalog) HasCollect(ctx context.Context, productID, collectionID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collects[[2]int64{productID, collectionID}], nil
}

func (c *fakeCatalog) AddToCollection(ctx context.Context, productID, collectionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.collects[[2]int64{productID, collectionID}] = true
	return nil
}

// memCache is an in-memory CacheRepository
type memCache struct {
	mu      sync.Mutex
	records map[int64]*domain.CacheRecord
	entries map[int64][]domain.IndexEntry
}

func newMemCache() *memCache {
	return &memCache{
		records: make(map[int64]*domain.CacheRecord),
		entries: make(map[int64][]domain.IndexEntry),
	}
}

func (m *memCache) UpsertWithIndex(ctx context.Context, record *domain.CacheRecord, entries []domain.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.SKU == record.SKU && id != record.ProductID {
			delete(m.records, id)
			delete(m.entries, id)
		}
	}
	rec := *record
	m.records[record.ProductID] = &rec
	m.entries[record.ProductID] = slices.Clone(entries)
	return nil
}

func (m *memCache) DeleteByProductID(ctx context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, productID)
	delete(m.entries, productID)
	return nil
}

func (m *memCache) GetByProductID(ctx context.Context, productID int64) (*domain.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[productID]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "cache_record", ID: fmt.Sprint(productID)}
	}
	rec := *r
	return &rec, nil
}

func (m *memCache) hit(r *domain.CacheRecord, key string) domain.SearchHit {
	h := domain.SearchHit{
		ProductID: r.ProductID,
		SKU:       r.SKU,
		Title:     r.Title,
		Handle:    r.Handle,
		Price:     r.Price,
		InStock:   r.InStock,
		GroupName: r.GroupName,
		FieldKey:  key,
	}
	for _, f := range r.Fields {
		if f.Key == key {
			h.FieldValue = f.Value
		}
	}
	return h
}

func (m *memCache) SearchByIdentifier(ctx context.Context, identifiers []string, limit int) ([]domain.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []domain.SearchHit
	for id, entries := range m.entries {
		for _, e := range entries {
			if slices.Contains(identifiers, e.Identifier) {
				hits = append(hits, m.hit(m.records[id], e.FieldKey))
				break
			}
		}
	}
	return hits, nil
}

func (m *memCache) SearchByFieldValue(ctx context.Context, fragment string, fieldKeys []string, limit int) ([]domain.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []domain.SearchHit
	for _, r := range m.records {
		for _, f := range r.Fields {
			if f.Namespace != domain.MetafieldNamespace || !slices.Contains(fieldKeys, f.Key) {
				continue
			}
			if strings.Contains(strings.ReplaceAll(strings.ToUpper(f.Value), " ", ""), fragment) {
				hits = append(hits, m.hit(r, f.Key))
			}
		}
	}
	return hits, nil
}

func (m *memCache) ListAll(ctx context.Context) ([]*domain.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CacheRecord
	for _, r := range m.records {
		rec := *r
		out = append(out, &rec)
	}
	slices.SortFunc(out, func(a, b *domain.CacheRecord) int { return int(a.ProductID - b.ProductID) })
	return out, nil
}

func (m *memCache) ReplaceIndex(ctx context.Context, entries []domain.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int64][]domain.IndexEntry)
	for _, e := range entries {
		m.entries[e.ProductID] = append(m.entries[e.ProductID], e)
	}
	return nil
}

func (m *memCache) Stats(ctx context.Context) (*domain.CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &domain.CacheStats{Records: int64(len(m.records))}
	for _, r := range m.records {
		s.Fields += int64(len(r.Fields))
	}
	for _, e := range m.entries {
		s.IndexEntries += int64(len(e))
	}
	return s, nil
}

func (m *memCache) identifiers(productID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries[productID] {
		out = append(out, e.Identifier)
	}
	slices.Sort(out)
	return out
}
