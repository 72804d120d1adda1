package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// GetItemCompatibilities retrieves the extended compatibility list of an item.
// It returns nil when the item has no compatibility resource.
func (c *Client) GetItemCompatibilities(ctx context.Context, seller, itemID string) (*Compatibilities, error) {
	var compat Compatibilities
	path := "/items/" + url.PathEscape(itemID) + "/compatibilities"
	query := url.Values{"extended": {"true"}}
	err := c.call(ctx, c.config.RequestTimeout, seller, http.MethodGet, path, query, nil, &compat)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &compat, nil
}

// CreateItemCompatibilities creates the compatibility list of an item that has none
func (c *Client) CreateItemCompatibilities(ctx context.Context, seller, itemID string, body CompatibilityCopyRequest) error {
	path := "/items/" + url.PathEscape(itemID) + "/compatibilities"
	return c.writeWithRateLimitRetry(ctx, seller, http.MethodPost, path, body)
}

// UpdateItemCompatibilities appends to (and optionally prunes) an existing compatibility list
func (c *Client) UpdateItemCompatibilities(ctx context.Context, seller, itemID string, body CompatibilityUpdateRequest) error {
	path := "/items/" + url.PathEscape(itemID) + "/compatibilities"
	return c.writeWithRateLimitRetry(ctx, seller, http.MethodPut, path, body)
}

// CopyPasteUserProductCompatibilities copies compatibilities into a user product in one request
func (c *Client) CopyPasteUserProductCompatibilities(ctx context.Context, seller, userProductID string, body CopyPasteRequest) error {
	path := "/user-products/" + url.PathEscape(userProductID) + "/compatibilities/copy-paste"
	return c.writeWithRateLimitRetry(ctx, seller, http.MethodPost, path, body)
}

// AddUserProductCompatibilities posts a batch of catalog products to a user product
func (c *Client) AddUserProductCompatibilities(ctx context.Context, seller, userProductID string, body UserProductCompatibilities) error {
	path := "/user-products/" + url.PathEscape(userProductID) + "/compatibilities"
	return c.writeWithRateLimitRetry(ctx, seller, http.MethodPost, path, body)
}
