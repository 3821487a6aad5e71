package textdiff

import (
	"encoding/json"
	"strings"
)

// NormalizeContent reduces a stored content value to comparable text.
//
// Stored content is either a plain string or a JSON object shaped
// {"text": ..., "timestamp": ...}. A JSON parse is attempted only when the
// trimmed value is brace-delimited; when parsing succeeds and a string-typed
// text field is present, that field is used. Every failure degrades silently
// to the trimmed raw value.
func NormalizeContent(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return trimmed
	}

	var wrapper struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
		return trimmed
	}
	if wrapper.Text == nil {
		return trimmed
	}
	return *wrapper.Text
}
