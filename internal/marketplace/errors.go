package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

const serviceName = "marketplace API"

var (
	// ErrNotFound is matched by API errors with status 404
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated is returned when no valid credential exists for a seller
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRateLimited is matched by API errors with status 429
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a structured error response from the marketplace API
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Detail     string
	// Payload is the decoded JSON object of the response body, if any
	Payload map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %d %s %s: %s", serviceName, e.StatusCode, e.Method, e.URL, e.Detail)
}

// Is maps HTTP statuses onto the package sentinel errors
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Causes returns the structured cause list of the error payload
func (e *APIError) Causes() []map[string]any {
	raw, ok := e.Payload["cause"].([]any)
	if !ok {
		return nil
	}
	causes := make([]map[string]any, 0, len(raw))
	for _, c := range raw {
		if m, ok := c.(map[string]any); ok {
			causes = append(causes, m)
		}
	}
	return causes
}

// AsAPIError unwraps err into an *APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// newAPIError builds an APIError from a non-2xx response body
func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Method:     "?",
		URL:        "?",
	}
	if resp.Request != nil {
		apiErr.Method = resp.Request.Method
		apiErr.URL = resp.Request.URL.String()
	}
	apiErr.Detail, apiErr.Payload = extractDetail(resp, body)
	return apiErr
}

func extractDetail(resp *http.Response, body []byte) (string, map[string]any) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		text := strings.TrimSpace(string(body))
		if text != "" {
			return truncate(text, 600), nil
		}
		return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil
	}

	payload, ok := decoded.(map[string]any)
	if !ok {
		return truncate(string(body), 600), nil
	}

	var parts []string
	if errText := stringField(payload, "error"); errText != "" {
		parts = append(parts, errText)
	}
	message := stringField(payload, "message")
	if message == "" {
		message = stringField(payload, "error_description")
	}
	if message == "" {
		message = stringField(payload, "detail")
	}
	if message != "" && !contains(parts, message) {
		parts = append(parts, message)
	}

	if causes, ok := payload["cause"].([]any); ok {
		var causeParts []string
		for _, c := range causes {
			cause, ok := c.(map[string]any)
			if !ok {
				if c != nil {
					causeParts = append(causeParts, fmt.Sprint(c))
				}
				continue
			}
			code := stringField(cause, "code")
			msg := stringField(cause, "message")
			if msg == "" {
				msg = stringField(cause, "description")
			}
			switch {
			case code != "" && msg != "":
				causeParts = append(causeParts, code+": "+msg)
			case msg != "":
				causeParts = append(causeParts, msg)
			case code != "":
				causeParts = append(causeParts, code)
			}
		}
		if len(causeParts) > 0 {
			parts = append(parts, strings.Join(causeParts, " | "))
		}
	}

	if len(parts) == 0 {
		return truncate(string(body), 600), payload
	}
	return strings.Join(parts, "; "), payload
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// truncate keeps at most n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
