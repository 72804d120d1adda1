package copier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func causesOf(invalid, required []string) Causes {
	c := Causes{Invalid: FieldSet{}, Required: FieldSet{}}
	for _, f := range invalid {
		c.Invalid[f] = struct{}{}
	}
	for _, f := range required {
		c.Required[f] = struct{}{}
	}
	return c
}

func TestAdjustRemovesShippingMethodsOnly(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","available_quantity":1}`)
	p := Payload{
		"available_quantity": 1,
		"shipping":           map[string]any{"mode": "me2", "methods": []any{map[string]any{"id": 1}}, "local_pick_up": false},
	}

	adjusted, actions := AdjustPayload(p, l, causesOf([]string{"shipping.methods"}, nil))

	assert.Equal(t, []string{"removed shipping.methods"}, actions)
	assert.Equal(t, map[string]any{"mode": "me2", "local_pick_up": false}, adjusted["shipping"])
	assert.Contains(t, p["shipping"], "methods", "input payload must not change")
}

func TestAdjustShippingMethodsTakesPrecedence(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","available_quantity":1}`)
	p := Payload{
		"available_quantity": 1,
		"video_id":           "v",
		"shipping":           map[string]any{"mode": "me2", "methods": []any{}},
	}

	adjusted, actions := AdjustPayload(p, l, causesOf([]string{"shipping.methods", "video_id"}, nil))

	assert.Equal(t, []string{"removed shipping.methods"}, actions)
	assert.True(t, adjusted.Has("video_id"))
}

func TestAdjustRemovesInvalidFieldsAndAddsFamilyName(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","title":"Brake pad","available_quantity":1}`)
	p := Payload{"title": "Brake pad", "video_id": "v", "available_quantity": 1, "price": 10}

	adjusted, actions := AdjustPayload(p, l, causesOf([]string{"title", "video_id"}, nil))

	assert.Equal(t, []string{"removed title", "removed video_id", "added family_name from source"}, actions)
	assert.Equal(t, Payload{"family_name": "Brake pad", "available_quantity": 1, "price": 10}, adjusted)
}

func TestAdjustRemovesWholeShipping(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","available_quantity":1}`)
	p := Payload{"available_quantity": 1, "shipping": map[string]any{"mode": "me2"}}

	adjusted, actions := AdjustPayload(p, l, causesOf([]string{"shipping.mode"}, nil))

	assert.Equal(t, []string{"removed shipping"}, actions)
	assert.False(t, adjusted.Has("shipping"))
}

func TestAdjustAddsRequiredFields(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","title":"Shirt","condition":"new","seller_custom_field":"SKU-9",
		"available_quantity":2,"pictures":[{"url":"http://example.com/a.jpg"}]}`)
	p := Payload{"available_quantity": 2}

	adjusted, actions := AdjustPayload(p, l, causesOf(nil,
		[]string{"family_name", "title", "pictures", "condition", "seller_custom_field"}))

	assert.Equal(t, []string{
		"added required family_name",
		"added required title",
		"added required pictures",
		"added required condition",
		"added required seller_custom_field",
	}, actions)
	assert.Equal(t, "Shirt", adjusted["family_name"])
	assert.Equal(t, "Shirt", adjusted["title"])
	assert.Equal(t, []PictureSource{{Source: "http://example.com/a.jpg"}}, adjusted["pictures"])
	assert.Equal(t, "new", adjusted["condition"])
	assert.Equal(t, "SKU-9", adjusted["seller_custom_field"])
}

func TestAdjustRequiredPicturesWithoutSource(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","available_quantity":1,"pictures":[{"id":"x"}]}`)

	adjusted, actions := AdjustPayload(Payload{"available_quantity": 1}, l, causesOf(nil, []string{"pictures"}))

	assert.Empty(t, actions)
	assert.False(t, adjusted.Has("pictures"))
}

func TestAdjustRestoresStockWhenVariationsRemoved(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","variations":[
		{"available_quantity":2,"attribute_combinations":[{"id":"SIZE","value_name":"M"}]},
		{"available_quantity":4,"attribute_combinations":[{"id":"SIZE","value_name":"L"}]}]}`)
	p := BuildPayload(l, false)

	adjusted, actions := AdjustPayload(p, l, causesOf([]string{"variations"}, nil))

	assert.Equal(t, []string{"removed variations"}, actions)
	assert.Equal(t, 6, adjusted["available_quantity"])
}

func TestAdjustNothingApplicable(t *testing.T) {
	l := mustListing(t, `{"id":"MLB1","available_quantity":1}`)
	p := Payload{"available_quantity": 1}

	adjusted, actions := AdjustPayload(p, l, causesOf([]string{"price"}, nil))

	assert.Empty(t, actions)
	assert.True(t, adjusted.Equal(p))
}
