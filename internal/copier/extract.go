package copier

import (
	"strings"

	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

const (
	// MaxFamilyNameLen is the longest family name the marketplace accepts.
	MaxFamilyNameLen = 120

	userProductListingTag = "user_product_listing"
	sellerSKUAttribute    = "SELLER_SKU"
)

// valueStrategy extracts a (value_id, value_name) pair from one attribute shape.
type valueStrategy func(a marketplace.Attribute) (id, name string, ok bool)

// valueStrategies are tried in order; the first match wins.
var valueStrategies = []valueStrategy{
	directValue,
	nestedValue,
	structValue,
}

func directValue(a marketplace.Attribute) (string, string, bool) {
	id, name := a.ValueID.String(), a.ValueName.String()
	return id, name, id != "" || name != ""
}

func nestedValue(a marketplace.Attribute) (string, string, bool) {
	for _, v := range a.Values {
		id, name := v.ID.String(), v.Name.String()
		if id != "" || name != "" {
			return id, name, true
		}
	}
	return "", "", false
}

func structValue(a marketplace.Attribute) (string, string, bool) {
	if a.ValueStruct == nil {
		return "", "", false
	}
	number := a.ValueStruct.Number.String()
	if number == "" {
		return "", "", false
	}
	return "", strings.TrimSpace(number + " " + a.ValueStruct.Unit.String()), true
}

// ExtractValuePair returns the normalized value of an attribute, or two empty strings.
func ExtractValuePair(a marketplace.Attribute) (valueID, valueName string) {
	for _, strategy := range valueStrategies {
		if id, name, ok := strategy(a); ok {
			return id, name
		}
	}
	return "", ""
}

func skuFromAttributes(attrs []marketplace.Attribute) string {
	for _, a := range attrs {
		if a.ID != sellerSKUAttribute {
			continue
		}
		id, name := ExtractValuePair(a)
		if name != "" {
			return name
		}
		if id != "" {
			return id
		}
	}
	return ""
}

// SellerSKU returns the seller's own SKU for a listing. It looks at the
// item field, then the SELLER_SKU attribute, then each variation.
func SellerSKU(l *marketplace.Listing) string {
	if sku := l.SellerCustomField.String(); sku != "" {
		return sku
	}
	if sku := skuFromAttributes(l.Attributes); sku != "" {
		return sku
	}
	for _, v := range l.Variations {
		if sku := VariationSKU(v); sku != "" {
			return sku
		}
	}
	return ""
}

// VariationSKU returns the SKU of a single variation.
func VariationSKU(v marketplace.Variation) string {
	if sku := v.SellerCustomField.String(); sku != "" {
		return sku
	}
	return skuFromAttributes(v.Attributes)
}

// FamilyName derives a family label from the family name, title, SKU or id, in that order.
func FamilyName(l *marketplace.Listing) string {
	candidates := []string{
		l.FamilyName.String(),
		l.Title.String(),
		SellerSKU(l),
		strings.TrimSpace(l.ID),
	}
	for _, c := range candidates {
		if c != "" {
			return truncateRunes(c, MaxFamilyNameLen)
		}
	}
	return ""
}

// IsUserProduct reports whether the listing uses the shared user-product flow.
func IsUserProduct(l *marketplace.Listing) bool {
	return l.HasTag(userProductListingTag) || l.FamilyName.String() != ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
