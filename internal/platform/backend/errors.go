package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is a non-2xx backend response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// HTTPStatus returns the response status code.
func (e *Error) HTTPStatus() int { return e.Status }

// ErrorCode returns the machine-readable code from the body, if any.
func (e *Error) ErrorCode() string { return e.Code }

// ErrorMessage returns the human-readable message from the body, if any.
func (e *Error) ErrorMessage() string { return e.Message }

// decodeError reads the error body. The backend is inconsistent about field names, so the first
// non-empty string among the known keys wins.
func decodeError(resp *http.Response) error {
	out := &Error{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		out.Code = firstString(body, "error_code", "code")
		out.Message = firstString(body, "message", "detail", "error")
	} else {
		out.Message = strings.TrimSpace(string(raw))
	}
	if out.Message == "" {
		out.Message = http.StatusText(resp.StatusCode)
	}
	return out
}

func firstString(body map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := body[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
