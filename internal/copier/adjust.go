package copier

import (
	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// removableFields may be dropped when the marketplace marks them invalid.
var removableFields = []string{
	"title",
	"family_name",
	"variations",
	"channels",
	"video_id",
	"sale_terms",
	"attributes",
	"seller_custom_field",
}

// AdjustPayload repairs payload according to the classified causes of a rejection.
// It returns the new payload and a description of each change; no actions means no
// field-level repair applies.
func AdjustPayload(payload Payload, l *marketplace.Listing, causes Causes) (Payload, []string) {
	adjusted := payload.Clone()
	var actions []string

	invalidTop := causes.Invalid.TopLevel()
	requiredTop := causes.Required.TopLevel()

	shipping, hasShipping := adjusted["shipping"].(map[string]any)
	_, hasMethods := shipping["methods"]

	switch {
	case causes.Invalid.Has("shipping.methods") && hasShipping && hasMethods:
		trimmed := make(map[string]any, len(shipping))
		for k, v := range shipping {
			if k != "methods" {
				trimmed[k] = v
			}
		}
		adjusted["shipping"] = trimmed
		actions = append(actions, "removed shipping.methods")

	case hasRemovable(adjusted, invalidTop):
		for _, field := range removableFields {
			if invalidTop.Has(field) && adjusted.Has(field) {
				delete(adjusted, field)
				actions = append(actions, "removed "+field)
			}
		}

	case invalidTop.Has("shipping") && !causes.Invalid.Has("shipping.methods") && adjusted.Has("shipping"):
		delete(adjusted, "shipping")
		actions = append(actions, "removed shipping")
	}

	if invalidTop.Has("title") && adjusted.String("family_name") == "" {
		if family := FamilyName(l); family != "" {
			adjusted["family_name"] = family
			actions = append(actions, "added family_name from source")
		}
	}

	actions = addRequired(adjusted, l, requiredTop, actions)

	if !adjusted.Has("variations") {
		ensureTopLevelStock(adjusted, l)
	}

	return adjusted, actions
}

func hasRemovable(p Payload, invalidTop FieldSet) bool {
	for _, field := range removableFields {
		if invalidTop.Has(field) && p.Has(field) {
			return true
		}
	}
	return false
}

func addRequired(p Payload, l *marketplace.Listing, requiredTop FieldSet, actions []string) []string {
	if requiredTop.Has("family_name") && p.String("family_name") == "" {
		if family := FamilyName(l); family != "" {
			p["family_name"] = family
			actions = append(actions, "added required family_name")
		}
	}

	if requiredTop.Has("title") && p.String("title") == "" {
		if title := l.Title.String(); title != "" {
			p["title"] = title
			actions = append(actions, "added required title")
		}
	}

	if requiredTop.Has("pictures") && !p.Has("pictures") {
		if pics := pictureSources(l.Pictures); len(pics) > 0 {
			p["pictures"] = pics
			actions = append(actions, "added required pictures")
		}
	}

	if requiredTop.Has("condition") && !p.Has("condition") && l.Condition != "" {
		p["condition"] = l.Condition
		actions = append(actions, "added required condition")
	}

	if requiredTop.Has("seller_custom_field") && p.String("seller_custom_field") == "" {
		if sku := SellerSKU(l); sku != "" {
			p["seller_custom_field"] = sku
			actions = append(actions, "added required seller_custom_field")
		}
	}

	return actions
}
