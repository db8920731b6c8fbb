package shopify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/pkg/errors"
)

const (
	productPageSize = 250
	productFields   = "id,title,handle,status,product_type,variants"
)

type productVariant struct {
	ID                  int64           `json:"id,omitempty"`
	SKU                 string          `json:"sku,omitempty"`
	Price               decimal.Decimal `json:"price"`
	InventoryManagement string          `json:"inventory_management,omitempty"`
	InventoryPolicy     string          `json:"inventory_policy,omitempty"`
}

type productImage struct {
	Src string `json:"src"`
}

type product struct {
	ID          int64              `json:"id,omitempty"`
	Title       string             `json:"title,omitempty"`
	Handle      string             `json:"handle,omitempty"`
	Status      string             `json:"status,omitempty"`
	ProductType string             `json:"product_type,omitempty"`
	Variants    []productVariant   `json:"variants,omitempty"`
	Images      []productImage     `json:"images,omitempty"`
	Metafields  []domain.Metafield `json:"metafields,omitempty"`
}

func (p product) identity() domain.TargetIdentity {
	id := domain.TargetIdentity{
		ID:          p.ID,
		Title:       p.Title,
		Handle:      p.Handle,
		Status:      p.Status,
		ProductType: p.ProductType,
	}
	if len(p.Variants) > 0 {
		v := p.Variants[0]
		id.VariantID = v.ID
		id.SKU = strings.TrimSpace(v.SKU)
		id.Price = v.Price
	}
	return id
}

type productEnvelope struct {
	Product product `json:"product"`
}

// ListProducts walks every product page and hands each batch of identities to fn.
// Identities carry the SKU of the first variant; it may be empty.
func (c *Client) ListProducts(ctx context.Context, fn func([]domain.TargetIdentity) error) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(productPageSize))
	q.Set("fields", productFields)
	path := "products.json?" + q.Encode()

	for path != "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.do(ctx, "list products", http.MethodGet, path, nil, http.StatusOK)
		if err != nil {
			return err
		}

		var page struct {
			Products []product `json:"products"`
		}
		if err := decode("list products", resp.Body, &page); err != nil {
			return err
		}
		if len(page.Products) == 0 {
			return nil
		}

		batch := make([]domain.TargetIdentity, 0, len(page.Products))
		for _, p := range page.Products {
			batch = append(batch, p.identity())
		}
		if err := fn(batch); err != nil {
			return err
		}

		path = ""
		if cursor := NextPageInfo(resp.Header.Get("Link")); cursor != "" {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(productPageSize))
			q.Set("fields", productFields)
			q.Set("page_info", cursor)
			path = "products.json?" + q.Encode()
		}
	}
	return nil
}

// CreateProduct creates a product with its variant and metafields in one call
func (c *Client) CreateProduct(ctx context.Context, item domain.TargetItem) (domain.TargetIdentity, error) {
	p := product{
		Title:       item.Title,
		Handle:      item.Handle,
		Status:      item.Status,
		ProductType: item.ProductType,
		Variants: []productVariant{{
			SKU:                 item.SKU,
			Price:               item.Price,
			InventoryManagement: "shopify",
			InventoryPolicy:     "continue",
		}},
		Metafields: item.Metafields,
	}
	if item.ImageURL != "" {
		p.Images = []productImage{{Src: item.ImageURL}}
	}

	op := "create product " + item.SKU
	resp, err := c.do(ctx, op, http.MethodPost, "products.json", productEnvelope{Product: p}, http.StatusCreated, http.StatusOK)
	if err != nil {
		return domain.TargetIdentity{}, err
	}

	var out productEnvelope
	if err := decode(op, resp.Body, &out); err != nil {
		return domain.TargetIdentity{}, err
	}
	if out.Product.ID == 0 {
		return domain.TargetIdentity{}, fmt.Errorf("%s: response carries no product id", op)
	}
	created := out.Product.identity()
	if created.SKU == "" {
		created.SKU = item.SKU
	}
	return created, nil
}

// UpdateProduct writes title, product type and variant price of an existing product
func (c *Client) UpdateProduct(ctx context.Context, identity domain.TargetIdentity) error {
	p := product{
		ID:          identity.ID,
		Title:       identity.Title,
		ProductType: identity.ProductType,
	}
	if identity.VariantID != 0 {
		p.Variants = []productVariant{{ID: identity.VariantID, Price: identity.Price}}
	}
	_, err := c.do(ctx, "update product "+identity.SKU, http.MethodPut, productPath(identity.ID), productEnvelope{Product: p}, http.StatusOK)
	return err
}

// SetProductStatus changes only the status of a product
func (c *Client) SetProductStatus(ctx context.Context, productID int64, status string) error {
	p := product{ID: productID, Status: status}
	_, err := c.do(ctx, "set product status", http.MethodPut, productPath(productID), productEnvelope{Product: p}, http.StatusOK)
	if isStatus(err, http.StatusNotFound) {
		return &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(productID, 10)}
	}
	return err
}

// DeleteProduct hard-deletes a product. A missing product is *errors.ErrNotFound.
func (c *Client) DeleteProduct(ctx context.Context, productID int64) error {
	_, err := c.do(ctx, "delete product", http.MethodDelete, productPath(productID), nil, http.StatusOK)
	if isStatus(err, http.StatusNotFound) {
		return &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(productID, 10)}
	}
	return err
}

// ListProductMetafields returns every metafield of a product
func (c *Client) ListProductMetafields(ctx context.Context, productID int64) ([]domain.Metafield, error) {
	op := "list metafields"
	resp, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("products/%d/metafields.json?limit=250", productID), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	// values of non-text metafields arrive as JSON numbers or booleans
	var out struct {
		Metafields []struct {
			ID        int64           `json:"id"`
			Namespace string          `json:"namespace"`
			Key       string          `json:"key"`
			Type      string          `json:"type"`
			Value     json.RawMessage `json:"value"`
		} `json:"metafields"`
	}
	if err := decode(op, resp.Body, &out); err != nil {
		return nil, err
	}
	fields := make([]domain.Metafield, 0, len(out.Metafields))
	for _, m := range out.Metafields {
		fields = append(fields, domain.Metafield{
			ID:        m.ID,
			Namespace: m.Namespace,
			Key:       m.Key,
			Type:      m.Type,
			Value:     rawText(m.Value),
		})
	}
	return fields, nil
}

func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// CreateProductMetafield adds one metafield to a product
func (c *Client) CreateProductMetafield(ctx context.Context, productID int64, mf domain.Metafield) (domain.Metafield, error) {
	op := "create metafield " + mf.Key
	payload := struct {
		Metafield domain.Metafield `json:"metafield"`
	}{Metafield: mf}
	resp, err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("products/%d/metafields.json", productID), payload, http.StatusCreated, http.StatusOK)
	if err != nil {
		return domain.Metafield{}, err
	}
	var out struct {
		Metafield domain.Metafield `json:"metafield"`
	}
	if err := decode(op, resp.Body, &out); err != nil {
		return domain.Metafield{}, err
	}
	return out.Metafield, nil
}

// CountProducts counts products, optionally filtered by product type
func (c *Client) CountProducts(ctx context.Context, productType string) (int, error) {
	path := "products/count.json"
	if productType != "" {
		path += "?" + url.Values{"product_type": {productType}}.Encode()
	}
	resp, err := c.do(ctx, "count products", http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return 0, err
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := decode("count products", resp.Body, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func productPath(id int64) string {
	return fmt.Sprintf("products/%d.json", id)
}

func isStatus(err error, code int) bool {
	var statusErr *errors.ErrStatus
	return stderrors.As(err, &statusErr) && statusErr.StatusCode == code
}
