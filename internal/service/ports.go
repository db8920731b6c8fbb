package service

import (
	"context"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/rackbeat"
)

// Source is the inventory side of a sync run (Rackbeat)
type Source interface {
	Page(ctx context.Context, page, limit int) (*rackbeat.Page, error)
	FetchFields(ctx context.Context, selfURL string) (map[string]string, error)
}

// Catalog is the storefront side of a sync run (Shopify)
type Catalog interface {
	ListProducts(ctx context.Context, fn func([]domain.TargetIdentity) error) error
	CreateProduct(ctx context.Context, item domain.TargetItem) (domain.TargetIdentity, error)
	UpdateProduct(ctx context.Context, identity domain.TargetIdentity) error
	SetProductStatus(ctx context.Context, productID int64, status string) error
	DeleteProduct(ctx context.Context, productID int64) error
	ListProductMetafields(ctx context.Context, productID int64) ([]domain.Metafield, error)
	CreateProductMetafield(ctx context.Context, productID int64, mf domain.Metafield) (domain.Metafield, error)
	CountProducts(ctx context.Context, productType string) (int, error)

	FindCustomCollection(ctx context.Context, title string) (int64, bool, error)
	CreateCustomCollection(ctx context.Context, title, imageURL string) (int64, error)
	HasCollect(ctx context.Context, productID, collectionID int64) (bool, error)
	AddToCollection(ctx context.Context, productID, collectionID int64) error
}
