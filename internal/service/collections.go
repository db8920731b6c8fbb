package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CollectionResolver maps group titles to custom collection ids for one run.
// Missing collections are created on first use with the group image.
type CollectionResolver struct {
	catalog Catalog
	images  map[string]string
	logger  *zap.Logger

	flight singleflight.Group
	mu     sync.Mutex
	ids    map[string]int64
}

func NewCollectionResolver(catalog Catalog, images map[string]string, logger *zap.Logger) *CollectionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionResolver{
		catalog: catalog,
		images:  images,
		logger:  logger,
		ids:     make(map[string]int64),
	}
}

// Resolve returns the collection id for title, creating the collection when absent.
// Concurrent callers for the same title share one lookup.
func (c *CollectionResolver) Resolve(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	id, ok := c.ids[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	v, err, _ := c.flight.Do(title, func() (any, error) {
		id, found, err := c.catalog.FindCustomCollection(ctx, title)
		if err != nil {
			return int64(0), err
		}
		if !found {
			id, err = c.catalog.CreateCustomCollection(ctx, title, c.images[title])
			if err != nil {
				return int64(0), err
			}
			c.logger.Info("Created collection", zap.String("title", title), zap.Int64("collection_id", id))
		}
		c.mu.Lock()
		c.ids[title] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve collection %q: %w", title, err)
	}
	return v.(int64), nil
}

// Ensure puts the product into the group's collection unless it is already a
// member. It reports whether a membership was added.
func (c *CollectionResolver) Ensure(ctx context.Context, productID int64, group string) (bool, error) {
	if group == "" {
		return false, nil
	}
	collectionID, err := c.Resolve(ctx, group)
	if err != nil {
		return false, err
	}
	member, err := c.catalog.HasCollect(ctx, productID, collectionID)
	if err != nil {
		return false, err
	}
	if member {
		return false, nil
	}
	if err := c.catalog.AddToCollection(ctx, productID, collectionID); err != nil {
		return false, err
	}
	return true, nil
}
