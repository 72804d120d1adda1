// Package compat copies vehicle compatibility lists between listings.
package compat

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// Mode selects how existing destination compatibilities are treated.
type Mode string

const (
	// ModeAdd appends source compatibilities to the destination.
	ModeAdd Mode = "add"
	// ModeReplace deletes the destination compatibilities first.
	ModeReplace Mode = "replace"
)

// API is the subset of the marketplace client used for compatibilities.
type API interface {
	GetItem(ctx context.Context, seller, itemID string) (*marketplace.Listing, error)
	GetItemCompatibilities(ctx context.Context, seller, itemID string) (*marketplace.Compatibilities, error)
	CreateItemCompatibilities(ctx context.Context, seller, itemID string, body marketplace.CompatibilityCopyRequest) error
	UpdateItemCompatibilities(ctx context.Context, seller, itemID string, body marketplace.CompatibilityUpdateRequest) error
	CopyPasteUserProductCompatibilities(ctx context.Context, seller, userProductID string, body marketplace.CopyPasteRequest) error
	AddUserProductCompatibilities(ctx context.Context, seller, userProductID string, body marketplace.UserProductCompatibilities) error
	SearchItemsBySKU(ctx context.Context, seller, userID, sku string) ([]string, error)
}

// Options tune a single compatibility copy.
type Options struct {
	// SourceProducts are the source compatibilities when already fetched.
	SourceProducts []marketplace.CompatibilityProduct
	Mode           Mode
	SourceDomainID string
}

// Copier copies the compatibilities of one item onto another.
type Copier struct {
	api         API
	userProduct UserProductStrategy
	logger      *zap.Logger
}

// NewCopier creates a compatibility copier. A nil strategy selects CopyPasteStrategy.
func NewCopier(api API, strategy UserProductStrategy, logger *zap.Logger) *Copier {
	if strategy == nil {
		strategy = CopyPasteStrategy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Copier{api: api, userProduct: strategy, logger: logger}
}

// CopyCompatibilities copies the compatibilities of sourceItemID onto destItemID,
// which belongs to destSeller.
func (c *Copier) CopyCompatibilities(ctx context.Context, destSeller, destItemID, sourceItemID string, opts Options) error {
	dest, err := c.api.GetItem(ctx, destSeller, destItemID)
	if err != nil {
		return fmt.Errorf("fetch destination item %s: %w", destItemID, err)
	}

	if dest.UserProductID != "" {
		return c.userProduct.Copy(ctx, c.api, destSeller, dest, sourceItemID, opts)
	}

	existing, err := c.api.GetItemCompatibilities(ctx, destSeller, destItemID)
	if err != nil {
		return fmt.Errorf("fetch destination compatibilities %s: %w", destItemID, err)
	}

	copyReq := marketplace.NewCompatibilityCopyRequest(sourceItemID)
	if !existing.HasProducts() {
		c.logger.Info("Creating compatibilities",
			zap.String("source_item_id", sourceItemID),
			zap.String("dest_item_id", destItemID))
		return c.api.CreateItemCompatibilities(ctx, destSeller, destItemID, copyReq)
	}

	update := marketplace.CompatibilityUpdateRequest{Create: copyReq}
	if opts.Mode == ModeReplace {
		var ids []string
		for _, p := range existing.Products {
			if id := p.CatalogProductID.String(); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			update.Delete = &marketplace.CompatibilityDelete{ProductIDs: ids}
		}
	}

	c.logger.Info("Updating compatibilities",
		zap.String("source_item_id", sourceItemID),
		zap.String("dest_item_id", destItemID),
		zap.String("mode", string(opts.Mode)),
		zap.Int("existing", len(existing.Products)))
	return c.api.UpdateItemCompatibilities(ctx, destSeller, destItemID, update)
}

// UserProductStrategy copies compatibilities onto a shared user product.
type UserProductStrategy interface {
	Copy(ctx context.Context, api API, seller string, dest *marketplace.Listing, sourceItemID string, opts Options) error
}

// CopyPasteStrategy issues a single copy-paste request keyed by domain and category.
type CopyPasteStrategy struct{}

// Copy implements UserProductStrategy
func (CopyPasteStrategy) Copy(ctx context.Context, api API, seller string, dest *marketplace.Listing, sourceItemID string, opts Options) error {
	domainID := opts.SourceDomainID
	if domainID == "" && len(opts.SourceProducts) > 0 {
		domainID = opts.SourceProducts[0].DomainID.String()
	}
	if domainID == "" {
		products, err := sourceProducts(ctx, api, seller, sourceItemID, nil)
		if err != nil {
			return err
		}
		if len(products) > 0 {
			domainID = products[0].DomainID.String()
		}
	}

	path := "/user-products/" + dest.UserProductID + "/compatibilities/copy-paste"
	if domainID == "" {
		return &marketplace.APIError{
			StatusCode: http.StatusBadRequest,
			Method:     http.MethodPost,
			URL:        path,
			Detail:     fmt.Sprintf("cannot determine domain_id for user product copy-paste (source: %s)", sourceItemID),
		}
	}

	return api.CopyPasteUserProductCompatibilities(ctx, seller, dest.UserProductID, marketplace.CopyPasteRequest{
		DomainID:            domainID,
		CategoryID:          dest.CategoryID,
		ItemID:              sourceItemID,
		ExtendedInformation: true,
	})
}

// ProductListStrategy posts the source catalog products to the user product in batches.
type ProductListStrategy struct {
	BatchSize int
}

// Copy implements UserProductStrategy
func (s ProductListStrategy) Copy(ctx context.Context, api API, seller string, dest *marketplace.Listing, sourceItemID string, opts Options) error {
	products, err := sourceProducts(ctx, api, seller, sourceItemID, opts.SourceProducts)
	if err != nil {
		return err
	}

	var valid []marketplace.CompatibilityProduct
	for _, p := range products {
		if p.CatalogProductID != "" || p.ID != "" {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	domainID := opts.SourceDomainID
	if domainID == "" {
		domainID = valid[0].DomainID.String()
	}

	size := s.BatchSize
	if size <= 0 {
		size = 100
	}
	for start := 0; start < len(valid); start += size {
		end := min(start+size, len(valid))
		err := api.AddUserProductCompatibilities(ctx, seller, dest.UserProductID, marketplace.UserProductCompatibilities{
			DomainID:   domainID,
			CategoryID: dest.CategoryID,
			Products:   valid[start:end],
		})
		if err != nil {
			return fmt.Errorf("add compatibilities batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func sourceProducts(ctx context.Context, api API, seller, sourceItemID string, known []marketplace.CompatibilityProduct) ([]marketplace.CompatibilityProduct, error) {
	if len(known) > 0 {
		return known, nil
	}
	compat, err := api.GetItemCompatibilities(ctx, seller, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("fetch source compatibilities %s: %w", sourceItemID, err)
	}
	if compat == nil {
		return nil, nil
	}
	return compat.Products, nil
}
