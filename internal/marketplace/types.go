package marketplace

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Text is a JSON scalar decoded as trimmed text.
// Strings are trimmed, numbers keep their literal form, and booleans,
// objects, arrays and null decode to the empty string.
type Text string

// UnmarshalJSON implements json.Unmarshaler
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*t = ""
		return nil
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	case c == '-' || (c >= '0' && c <= '9'):
		*t = Text(data)
	default:
		*t = ""
	}
	return nil
}

// String returns the text value
func (t Text) String() string {
	return string(t)
}

// Listing is a marketplace item as returned by GET /items/{id}.
// It is read-only input for the copy engine.
type Listing struct {
	ID                string      `json:"id"`
	SellerID          json.Number `json:"seller_id,omitempty"`
	Title             Text        `json:"title,omitempty"`
	FamilyName        Text        `json:"family_name,omitempty"`
	CategoryID        string      `json:"category_id,omitempty"`
	DomainID          string      `json:"domain_id,omitempty"`
	Price             json.Number `json:"price,omitempty"`
	CurrencyID        string      `json:"currency_id,omitempty"`
	AvailableQuantity *int        `json:"available_quantity,omitempty"`
	SoldQuantity      *int        `json:"sold_quantity,omitempty"`
	BuyingMode        string      `json:"buying_mode,omitempty"`
	ListingTypeID     string      `json:"listing_type_id,omitempty"`
	Condition         string      `json:"condition,omitempty"`
	VideoID           string      `json:"video_id,omitempty"`
	SellerCustomField Text        `json:"seller_custom_field,omitempty"`
	Status            string      `json:"status,omitempty"`
	Permalink         string      `json:"permalink,omitempty"`
	Thumbnail         string      `json:"thumbnail,omitempty"`
	SecureThumbnail   string      `json:"secure_thumbnail,omitempty"`
	UserProductID     string      `json:"user_product_id,omitempty"`
	Pictures          []Picture   `json:"pictures,omitempty"`
	Attributes        []Attribute `json:"attributes,omitempty"`
	SaleTerms         []Attribute `json:"sale_terms,omitempty"`
	Variations        []Variation `json:"variations,omitempty"`
	Shipping          *Shipping   `json:"shipping,omitempty"`
	Channels          []string    `json:"channels,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
}

// HasTag reports whether the listing carries the given tag
func (l *Listing) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Picture holds picture URLs
type Picture struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url,omitempty"`
	SecureURL string `json:"secure_url,omitempty"`
}

// Source returns the best URL for re-uploading the picture
func (p Picture) Source() string {
	if p.SecureURL != "" {
		return p.SecureURL
	}
	return p.URL
}

// Attribute is an attribute, sale term or attribute combination record.
// The value may live in ValueID/ValueName, in Values or in ValueStruct.
type Attribute struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	ValueID     Text             `json:"value_id,omitempty"`
	ValueName   Text             `json:"value_name,omitempty"`
	Values      []AttributeValue `json:"values,omitempty"`
	ValueStruct *ValueStruct     `json:"value_struct,omitempty"`
}

// AttributeValue is one entry of a nested values list
type AttributeValue struct {
	ID     Text         `json:"id,omitempty"`
	Name   Text         `json:"name,omitempty"`
	Struct *ValueStruct `json:"struct,omitempty"`
}

// ValueStruct is a numeric value with a unit, e.g. {"number": 10, "unit": "cm"}
type ValueStruct struct {
	Number Text `json:"number,omitempty"`
	Unit   Text `json:"unit,omitempty"`
}

// Variation is a sub-listing with its own stock and attribute combination
type Variation struct {
	ID                    json.Number `json:"id,omitempty"`
	Price                 json.Number `json:"price,omitempty"`
	AvailableQuantity     *int        `json:"available_quantity,omitempty"`
	SellerCustomField     Text        `json:"seller_custom_field,omitempty"`
	AttributeCombinations []Attribute `json:"attribute_combinations,omitempty"`
	Attributes            []Attribute `json:"attributes,omitempty"`
	PictureIDs            []string    `json:"picture_ids,omitempty"`
}

// Shipping holds the listing shipping configuration
type Shipping struct {
	Mode         string          `json:"mode,omitempty"`
	LocalPickUp  bool            `json:"local_pick_up"`
	FreeShipping bool            `json:"free_shipping"`
	Methods      json.RawMessage `json:"methods,omitempty"`
	Dimensions   *string         `json:"dimensions,omitempty"`
}

// Description is the plain text description of an item
type Description struct {
	PlainText string `json:"plain_text"`
}

// CreatedItem is the response of POST /items
type CreatedItem struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Compatibilities is the vehicle compatibility list of an item
type Compatibilities struct {
	Products []CompatibilityProduct `json:"products"`
}

// HasProducts reports whether any compatibility entry exists
func (c *Compatibilities) HasProducts() bool {
	return c != nil && len(c.Products) > 0
}

// CompatibilityProduct is one compatible catalog product
type CompatibilityProduct struct {
	ID               Text `json:"id,omitempty"`
	CatalogProductID Text `json:"catalog_product_id,omitempty"`
	DomainID         Text `json:"domain_id,omitempty"`
}

// ItemToCopy references the item compatibilities are copied from
type ItemToCopy struct {
	ItemID              string `json:"item_id"`
	ExtendedInformation bool   `json:"extended_information"`
}

// CompatibilityCopyRequest creates compatibilities by copying them from another item
type CompatibilityCopyRequest struct {
	ItemToCopy ItemToCopy `json:"item_to_copy"`
}

// NewCompatibilityCopyRequest returns a copy request for the source item
func NewCompatibilityCopyRequest(sourceItemID string) CompatibilityCopyRequest {
	return CompatibilityCopyRequest{ItemToCopy: ItemToCopy{ItemID: sourceItemID, ExtendedInformation: true}}
}

// CompatibilityUpdateRequest is the body of PUT /items/{id}/compatibilities
type CompatibilityUpdateRequest struct {
	Create CompatibilityCopyRequest `json:"create"`
	Delete *CompatibilityDelete     `json:"delete,omitempty"`
}

// CompatibilityDelete lists catalog products to remove
type CompatibilityDelete struct {
	ProductIDs []string `json:"product_ids"`
}

// CopyPasteRequest copies compatibilities into a user product
type CopyPasteRequest struct {
	DomainID            string `json:"domain_id"`
	CategoryID          string `json:"category_id"`
	ItemID              string `json:"item_id"`
	ExtendedInformation bool   `json:"extended_information"`
}

// UserProductCompatibilities adds a batch of catalog products to a user product
type UserProductCompatibilities struct {
	DomainID   string                 `json:"domain_id,omitempty"`
	CategoryID string                 `json:"category_id,omitempty"`
	Products   []CompatibilityProduct `json:"products"`
}

// SearchResponse is the response of the seller item search
type SearchResponse struct {
	Results []string `json:"results"`
}
