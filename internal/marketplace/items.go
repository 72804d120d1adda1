package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// GetItem retrieves the full item data
func (c *Client) GetItem(ctx context.Context, seller, itemID string) (*Listing, error) {
	var item Listing
	path := "/items/" + url.PathEscape(itemID)
	if err := c.call(ctx, c.config.RequestTimeout, seller, http.MethodGet, path, nil, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemDescription retrieves the item description. A missing description yields an empty one.
func (c *Client) GetItemDescription(ctx context.Context, seller, itemID string) (*Description, error) {
	var desc Description
	path := "/items/" + url.PathEscape(itemID) + "/description"
	err := c.call(ctx, c.config.RequestTimeout, seller, http.MethodGet, path, nil, nil, &desc)
	if errors.Is(err, ErrNotFound) {
		return &Description{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &desc, nil
}

// CreateItem creates a new listing from a creation payload
func (c *Client) CreateItem(ctx context.Context, seller string, payload any) (*CreatedItem, error) {
	var created CreatedItem
	if err := c.call(ctx, c.config.CreateTimeout, seller, http.MethodPost, "/items", nil, payload, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create item: response carries no item id")
	}
	return &created, nil
}

// UpdateItem updates an existing listing
func (c *Client) UpdateItem(ctx context.Context, seller, itemID string, payload any) error {
	path := "/items/" + url.PathEscape(itemID)
	return c.call(ctx, c.config.RequestTimeout, seller, http.MethodPut, path, nil, payload, nil)
}

// SetItemDescription sets the plain text description of an item
func (c *Client) SetItemDescription(ctx context.Context, seller, itemID, plainText string) error {
	path := "/items/" + url.PathEscape(itemID) + "/description"
	return c.call(ctx, c.config.RequestTimeout, seller, http.MethodPost, path, nil, Description{PlainText: plainText}, nil)
}

// SearchItemsBySKU returns the ids of the seller's items matching a SKU.
// Both the seller_sku and sku filters are queried and the results merged.
func (c *Client) SearchItemsBySKU(ctx context.Context, seller, userID, sku string) ([]string, error) {
	path := "/users/" + url.PathEscape(userID) + "/items/search"

	seen := make(map[string]bool)
	var ids []string
	for _, param := range []string{"seller_sku", "sku"} {
		var result SearchResponse
		query := url.Values{param: {sku}}
		err := c.call(ctx, c.config.RequestTimeout, seller, http.MethodGet, path, query, nil, &result)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, id := range result.Results {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}
