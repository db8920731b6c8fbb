package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type customCollection struct {
	ID    int64         `json:"id,omitempty"`
	Title string        `json:"title"`
	Image *productImage `json:"image,omitempty"`
}

// FindCustomCollection looks up a custom collection by exact title.
// found is false when no collection carries that title.
func (c *Client) FindCustomCollection(ctx context.Context, title string) (id int64, found bool, err error) {
	q := url.Values{}
	q.Set("limit", "250")
	q.Set("title", title)
	path := "custom_collections.json?" + q.Encode()

	for path != "" {
		resp, err := c.do(ctx, "find collection "+title, http.MethodGet, path, nil, http.StatusOK)
		if err != nil {
			return 0, false, err
		}
		var page struct {
			CustomCollections []customCollection `json:"custom_collections"`
		}
		if err := decode("find collection", resp.Body, &page); err != nil {
			return 0, false, err
		}
		for _, cc := range page.CustomCollections {
			if strings.EqualFold(strings.TrimSpace(cc.Title), strings.TrimSpace(title)) {
				return cc.ID, true, nil
			}
		}

		path = ""
		if cursor := NextPageInfo(resp.Header.Get("Link")); cursor != "" {
			path = "custom_collections.json?" + url.Values{"limit": {"250"}, "page_info": {cursor}}.Encode()
		}
	}
	return 0, false, nil
}

// CreateCustomCollection creates a custom collection, with an image when imageURL is set
func (c *Client) CreateCustomCollection(ctx context.Context, title, imageURL string) (int64, error) {
	cc := customCollection{Title: title}
	if imageURL != "" {
		cc.Image = &productImage{Src: imageURL}
	}
	payload := struct {
		CustomCollection customCollection `json:"custom_collection"`
	}{CustomCollection: cc}

	op := "create collection " + title
	resp, err := c.do(ctx, op, http.MethodPost, "custom_collections.json", payload, http.StatusCreated, http.StatusOK)
	if err != nil {
		return 0, err
	}
	var out struct {
		CustomCollection customCollection `json:"custom_collection"`
	}
	if err := decode(op, resp.Body, &out); err != nil {
		return 0, err
	}
	if out.CustomCollection.ID == 0 {
		return 0, fmt.Errorf("%s: response carries no collection id", op)
	}
	return out.CustomCollection.ID, nil
}

// HasCollect reports whether a product is already a member of a collection
func (c *Client) HasCollect(ctx context.Context, productID, collectionID int64) (bool, error) {
	q := url.Values{}
	q.Set("product_id", strconv.FormatInt(productID, 10))
	q.Set("collection_id", strconv.FormatInt(collectionID, 10))
	resp, err := c.do(ctx, "list collects", http.MethodGet, "collects.json?"+q.Encode(), nil, http.StatusOK)
	if err != nil {
		return false, err
	}
	var out struct {
		Collects []struct {
			ID int64 `json:"id"`
		} `json:"collects"`
	}
	if err := decode("list collects", resp.Body, &out); err != nil {
		return false, err
	}
	return len(out.Collects) > 0, nil
}

// AddToCollection makes a product a member of a custom collection.
// An "already exists" rejection counts as success.
func (c *Client) AddToCollection(ctx context.Context, productID, collectionID int64) error {
	payload := map[string]any{
		"collect": map[string]int64{
			"product_id":    productID,
			"collection_id": collectionID,
		},
	}
	_, err := c.do(ctx, "add to collection", http.MethodPost, "collects.json", payload, http.StatusCreated, http.StatusOK)
	if isStatus(err, http.StatusUnprocessableEntity) && strings.Contains(err.Error(), "already") {
		return nil
	}
	return err
}
