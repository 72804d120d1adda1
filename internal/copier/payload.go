package copier

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// Payload is the body of a create-item request. Operations on it return a new
// value and leave the receiver untouched.
type Payload map[string]any

// AttributeValue is an attribute, sale term or combination entry of a payload.
type AttributeValue struct {
	ID        string `json:"id"`
	ValueID   string `json:"value_id,omitempty"`
	ValueName string `json:"value_name,omitempty"`
}

// PictureSource asks the marketplace to fetch a picture from a URL.
type PictureSource struct {
	Source string `json:"source"`
}

// VariationPayload is one variation of a create-item request.
type VariationPayload struct {
	AvailableQuantity     *int             `json:"available_quantity,omitempty"`
	Price                 json.Number      `json:"price,omitempty"`
	SellerCustomField     string           `json:"seller_custom_field,omitempty"`
	AttributeCombinations []AttributeValue `json:"attribute_combinations,omitempty"`
	Attributes            []AttributeValue `json:"attributes,omitempty"`
}

// ExcludedAttributes are read-only or auto-computed and are never sent on create.
var ExcludedAttributes = map[string]struct{}{
	"ITEM_CONDITION":   {},
	"SELLER_SKU":       {},
	"GTIN":             {},
	"PACKAGE_WEIGHT":   {},
	"PACKAGE_HEIGHT":   {},
	"PACKAGE_WIDTH":    {},
	"PACKAGE_LENGTH":   {},
	"SHIPMENT_PACKING": {},
	"CATALOG_TITLE":    {},
	"PRODUCT_FEATURES": {},
}

// SkipFields are generated by the marketplace and never appear in a payload.
var SkipFields = map[string]struct{}{
	"id": {}, "seller_id": {}, "date_created": {}, "start_time": {}, "stop_time": {},
	"sold_quantity": {}, "status": {}, "permalink": {}, "thumbnail": {}, "thumbnail_id": {},
	"secure_thumbnail": {}, "health": {}, "tags": {}, "catalog_listing": {},
	"automatic_relist": {}, "last_updated": {}, "base_price": {},
	"initial_quantity": {}, "official_store_id": {}, "catalog_product_id": {},
	"domain_id": {}, "parent_item_id": {}, "deal_ids": {}, "subtitle": {},
	"differential_pricing": {}, "original_price": {},
}

// Clone returns a shallow copy. Nested maps are copied when modified.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// With returns a copy with key set to value.
func (p Payload) With(key string, value any) Payload {
	out := p.Clone()
	out[key] = value
	return out
}

// Without returns a copy without the given keys.
func (p Payload) Without(keys ...string) Payload {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Has reports whether key is present.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value of key when it is a non-empty string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Keys returns the sorted top-level keys.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal compares two payloads by their JSON encoding.
func (p Payload) Equal(other Payload) bool {
	a, errA := json.Marshal(p)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// BuildPayload converts a source listing into a create-item payload.
// safeMode drops optional fields that often cause rejections.
func BuildPayload(l *marketplace.Listing, safeMode bool) Payload {
	p := Payload{}
	userProduct := IsUserProduct(l)

	if !userProduct {
		setString(p, "title", l.Title.String())
	}
	setString(p, "category_id", l.CategoryID)
	if l.Price != "" {
		p["price"] = l.Price
	}
	setString(p, "currency_id", l.CurrencyID)
	if l.AvailableQuantity != nil {
		p["available_quantity"] = *l.AvailableQuantity
	}
	setString(p, "buying_mode", l.BuyingMode)
	setString(p, "listing_type_id", l.ListingTypeID)
	setString(p, "condition", l.Condition)
	if !safeMode {
		setString(p, "video_id", l.VideoID)
	}

	setString(p, "seller_custom_field", SellerSKU(l))

	family := l.FamilyName.String()
	if family == "" && userProduct {
		family = FamilyName(l)
	}
	setString(p, "family_name", truncateRunes(family, MaxFamilyNameLen))

	if pics := pictureSources(l.Pictures); len(pics) > 0 {
		p["pictures"] = pics
	}

	if attrs := buildAttributes(l.Attributes); len(attrs) > 0 {
		p["attributes"] = attrs
	}

	if terms := buildSaleTerms(l.SaleTerms); len(terms) > 0 {
		p["sale_terms"] = terms
	}

	if l.Shipping != nil {
		// me1 is seller specific and cannot be carried over.
		p["shipping"] = map[string]any{
			"mode":          "me2",
			"local_pick_up": l.Shipping.LocalPickUp,
			"free_shipping": l.Shipping.FreeShipping,
		}
	}

	if len(l.Variations) > 0 && !userProduct {
		if variations := buildVariations(l.Variations, safeMode); len(variations) > 0 {
			p["variations"] = variations
			// Stock lives on each variation.
			delete(p, "available_quantity")
		} else {
			ensureTopLevelStock(p, l)
		}
	}

	if len(l.Channels) > 0 && !safeMode {
		p["channels"] = append([]string(nil), l.Channels...)
	}

	return p
}

// SafePayload is the reduced payload used once field-level repairs are exhausted.
func SafePayload(l *marketplace.Listing) Payload {
	p := BuildPayload(l, true)
	if p.String("family_name") == "" {
		if family := FamilyName(l); family != "" {
			p["family_name"] = family
		}
	}
	return p
}

func setString(p Payload, key, value string) {
	if value != "" {
		p[key] = value
	}
}

func pictureSources(pictures []marketplace.Picture) []PictureSource {
	var out []PictureSource
	for _, pic := range pictures {
		if src := pic.Source(); src != "" {
			out = append(out, PictureSource{Source: src})
		}
	}
	return out
}

func buildAttributes(attrs []marketplace.Attribute) []AttributeValue {
	var out []AttributeValue
	for _, a := range attrs {
		if _, excluded := ExcludedAttributes[a.ID]; excluded {
			continue
		}
		id, name := ExtractValuePair(a)
		if id == "" && name == "" {
			continue
		}
		out = append(out, AttributeValue{ID: a.ID, ValueID: id, ValueName: name})
	}
	return out
}

// singleValue keeps value_id when present, value_name otherwise.
func singleValue(attrID, valueID, valueName string) (AttributeValue, bool) {
	if attrID == "" || (valueID == "" && valueName == "") {
		return AttributeValue{}, false
	}
	if valueID != "" {
		return AttributeValue{ID: attrID, ValueID: valueID}, true
	}
	return AttributeValue{ID: attrID, ValueName: valueName}, true
}

func buildSaleTerms(terms []marketplace.Attribute) []AttributeValue {
	var out []AttributeValue
	for _, t := range terms {
		id, name := ExtractValuePair(t)
		if v, ok := singleValue(t.ID, id, name); ok {
			out = append(out, v)
		}
	}
	return out
}

func buildVariations(variations []marketplace.Variation, safeMode bool) []VariationPayload {
	var out []VariationPayload
	for _, v := range variations {
		vp := VariationPayload{
			Price:             v.Price,
			SellerCustomField: VariationSKU(v),
		}
		if v.AvailableQuantity != nil {
			qty := *v.AvailableQuantity
			vp.AvailableQuantity = &qty
		}

		for _, ac := range v.AttributeCombinations {
			if combo, ok := singleValue(ac.ID, ac.ValueID.String(), ac.ValueName.String()); ok {
				vp.AttributeCombinations = append(vp.AttributeCombinations, combo)
			}
		}

		for _, a := range v.Attributes {
			if a.ID == "" || (safeMode && a.ID != sellerSKUAttribute) {
				continue
			}
			id, name := ExtractValuePair(a)
			if attr, ok := singleValue(a.ID, id, name); ok {
				vp.Attributes = append(vp.Attributes, attr)
			}
		}

		// Source picture_ids are not reused; they fail on create.
		if len(vp.AttributeCombinations) > 0 {
			out = append(out, vp)
		}
	}
	return out
}

// ensureTopLevelStock sets available_quantity from the listing, summing
// variation stock when the listing has none of its own.
func ensureTopLevelStock(p Payload, l *marketplace.Listing) {
	if p.Has("available_quantity") {
		return
	}
	if l.AvailableQuantity != nil {
		p["available_quantity"] = *l.AvailableQuantity
		return
	}
	if l.Variations == nil {
		return
	}
	total := 0
	for _, v := range l.Variations {
		if v.AvailableQuantity != nil {
			total += *v.AvailableQuantity
		}
	}
	p["available_quantity"] = total
}
