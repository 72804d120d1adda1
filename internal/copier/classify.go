package copier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// Markers understood by ExtractFields.
const (
	MarkerInvalidFields  = "invalid_fields"
	MarkerRequiredFields = "required_fields"
)

var bracketFieldsRE = regexp.MustCompile(`\[([^\]]+)\]`)

var dimensionKeywords = []string{
	"dimension", "dimensions", "dimensões", "dimensiones",
	"shipping.dimensions", "package_height", "package_width",
	"package_length", "package_weight", "seller_package",
}

// FieldSet is a set of lower-cased, dot separated field paths.
type FieldSet map[string]struct{}

// Has reports whether path is in the set.
func (s FieldSet) Has(path string) bool {
	_, ok := s[path]
	return ok
}

// TopLevel returns the first path segment of every field.
func (s FieldSet) TopLevel() FieldSet {
	out := make(FieldSet, len(s))
	for f := range s {
		top, _, _ := strings.Cut(f, ".")
		out[top] = struct{}{}
	}
	return out
}

// Sorted returns the fields in lexical order.
func (s FieldSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Causes is the classified outcome of one rejected submission.
type Causes struct {
	Invalid  FieldSet
	Required FieldSet
}

// Empty reports whether nothing could be classified.
func (c Causes) Empty() bool {
	return len(c.Invalid) == 0 && len(c.Required) == 0
}

// Classifier turns a rejected submission into structured causes.
type Classifier interface {
	Classify(err error) Causes
	IsDimensionsError(err error) bool
}

// TextClassifier parses the free-form messages of marketplace validation errors.
type TextClassifier struct{}

// Classify implements Classifier
func (TextClassifier) Classify(err error) Causes {
	return Causes{
		Invalid:  ExtractFields(err, MarkerInvalidFields),
		Required: ExtractFields(err, MarkerRequiredFields),
	}
}

// IsDimensionsError implements Classifier
func (TextClassifier) IsDimensionsError(err error) bool {
	if err == nil {
		return false
	}
	for _, text := range errorTexts(err) {
		lower := strings.ToLower(text)
		for _, kw := range dimensionKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// ExtractFields collects bracketed field lists from every error text once any text
// mentions marker. The platform often names the marker in the message and lists the
// fields in a cause, so the match is per error, not per text.
func ExtractFields(err error, marker string) FieldSet {
	fields := FieldSet{}
	if err == nil {
		return fields
	}

	marker = strings.ToLower(strings.TrimSpace(marker))
	texts := errorTexts(err)
	found := false
	for _, text := range texts {
		if mentionsMarker(strings.ToLower(text), marker) {
			found = true
			break
		}
	}
	if !found {
		return fields
	}

	for _, text := range texts {
		for _, m := range bracketFieldsRE.FindAllStringSubmatch(text, -1) {
			for _, raw := range strings.Split(m[1], ",") {
				f := strings.Trim(strings.TrimSpace(raw), `'"`)
				if f != "" {
					fields[strings.ToLower(f)] = struct{}{}
				}
			}
		}
	}
	return fields
}

func mentionsMarker(text, marker string) bool {
	if marker == "" || strings.Contains(text, marker) {
		return true
	}
	switch marker {
	case MarkerRequiredFields:
		return strings.Contains(text, "following properties") || strings.Contains(text, "required field")
	case MarkerInvalidFields:
		return strings.Contains(text, "invalid field")
	}
	return false
}

// errorTexts returns the error message and, for a structured error, the message, error
// and detail strings of its payload plus the text of every cause.
func errorTexts(err error) []string {
	texts := []string{err.Error()}

	apiErr, ok := marketplace.AsAPIError(err)
	if !ok || apiErr.Payload == nil {
		return texts
	}

	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := apiErr.Payload[key].(string); ok && s != "" {
			texts = append(texts, s)
		}
	}

	causes, _ := apiErr.Payload["cause"].([]any)
	for _, cause := range causes {
		switch c := cause.(type) {
		case string:
			if c != "" {
				texts = append(texts, c)
			}
		case map[string]any:
			for _, key := range []string{"code", "message", "description"} {
				if s, ok := c[key].(string); ok && s != "" {
					texts = append(texts, s)
				}
			}
		case nil:
		default:
			texts = append(texts, fmt.Sprint(c))
		}
	}
	return texts
}
