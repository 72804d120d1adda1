package copier

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

func validationError(message string, causes ...map[string]any) *marketplace.APIError {
	payload := map[string]any{"message": message, "error": "validation_error", "status": 400}
	if len(causes) > 0 {
		list := make([]any, len(causes))
		for i, c := range causes {
			list[i] = c
		}
		payload["cause"] = list
	}
	return &marketplace.APIError{
		StatusCode: 400,
		Method:     "POST",
		URL:        "https://api.mercadolibre.com/items",
		Detail:     message,
		Payload:    payload,
	}
}

func TestExtractFieldsInvalidShippingMethods(t *testing.T) {
	err := validationError("invalid field: [shipping.methods]")

	assert.Equal(t, FieldSet{"shipping.methods": {}}, ExtractFields(err, MarkerInvalidFields))
	assert.Empty(t, ExtractFields(err, MarkerRequiredFields))
}

func TestExtractFieldsRequiredFromCause(t *testing.T) {
	err := validationError("Validation error", map[string]any{
		"code":    "item.required_fields",
		"message": "Fields [Family_Name, 'pictures'] are missing",
		"type":    "error",
	})

	assert.Equal(t, FieldSet{"family_name": {}, "pictures": {}}, ExtractFields(err, MarkerRequiredFields))
	assert.Empty(t, ExtractFields(err, MarkerInvalidFields))
}

func TestExtractFieldsFollowingProperties(t *testing.T) {
	err := validationError("The following properties are required: [title, \"condition\"]")
	assert.Equal(t, []string{"condition", "title"}, ExtractFields(err, MarkerRequiredFields).Sorted())
}

func TestExtractFieldsWithoutMarker(t *testing.T) {
	err := validationError("Something failed [title]")
	assert.Empty(t, ExtractFields(err, MarkerInvalidFields))
	assert.Empty(t, ExtractFields(err, MarkerRequiredFields))
	assert.Empty(t, ExtractFields(nil, MarkerInvalidFields))
}

func TestExtractFieldsFromPlainError(t *testing.T) {
	err := fmt.Errorf("create: %w", errors.New("invalid field: [video_id, channels]"))
	assert.Equal(t, []string{"channels", "video_id"}, ExtractFields(err, MarkerInvalidFields).Sorted())
}

func TestFieldSetTopLevel(t *testing.T) {
	s := FieldSet{"shipping.methods": {}, "title": {}}
	assert.Equal(t, FieldSet{"shipping": {}, "title": {}}, s.TopLevel())
}

func TestIsDimensionsError(t *testing.T) {
	c := TextClassifier{}

	assert.True(t, c.IsDimensionsError(validationError("Missing package_height for shipping")))
	assert.True(t, c.IsDimensionsError(validationError("Validation error", map[string]any{
		"code": "item.shipping.seller_package.missing", "message": "x",
	})))
	assert.True(t, c.IsDimensionsError(validationError("Faltan las dimensiones del paquete")))
	assert.True(t, c.IsDimensionsError(errors.New("Item sem dimensões")))
	assert.False(t, c.IsDimensionsError(validationError("invalid field: [title]")))
	assert.False(t, c.IsDimensionsError(nil))
}

func TestClassify(t *testing.T) {
	err := validationError("invalid field: [title]")
	causes := TextClassifier{}.Classify(err)
	assert.Equal(t, FieldSet{"title": {}}, causes.Invalid)
	assert.Empty(t, causes.Required)
	assert.False(t, causes.Empty())
}

func platformError(message string, causes ...any) *marketplace.APIError {
	return &marketplace.APIError{
		StatusCode: 400,
		Method:     "POST",
		URL:        "https://api.mercadolibre.com/items",
		Detail:     message,
		Payload:    map[string]any{"message": message, "error": "validation_error", "status": 400, "cause": causes},
	}
}

func TestExtractFieldsMarkerInMessageFieldsInStringCause(t *testing.T) {
	err := platformError("body.invalid_fields", "The fields [title] are invalid for requested call.")

	causes := TextClassifier{}.Classify(err)
	assert.Equal(t, FieldSet{"title": {}}, causes.Invalid)
	assert.Empty(t, causes.Required)
}

func TestExtractFieldsMarkerInMessageFieldsInCauseRecord(t *testing.T) {
	err := platformError("body.invalid_fields", map[string]any{
		"code":    "item.title.invalid",
		"message": "The fields [title] are invalid for requested call.",
	})

	assert.Equal(t, FieldSet{"title": {}}, TextClassifier{}.Classify(err).Invalid)
}

func TestExtractFieldsRequiredInStringCause(t *testing.T) {
	err := platformError("body.required_fields", "The body does not contain the following properties [family_name]")

	causes := TextClassifier{}.Classify(err)
	assert.Equal(t, FieldSet{"family_name": {}}, causes.Required)
	assert.Empty(t, causes.Invalid)
}

func TestIsDimensionsErrorInStringCause(t *testing.T) {
	err := platformError("Validation error", "Missing seller_package dimensions")
	assert.True(t, TextClassifier{}.IsDimensionsError(err))
}
