// Package options normalises the raw options field of a question.
//
// The backend sends options either as a JSON array, as a string holding a
// JSON array, or as a single-quoted pseudo-array such as ['A','B'] left over
// from older question imports.
package options

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformed is returned by ParseStrict when the input is not a list.
var ErrMalformed = errors.New("options: malformed option list")

// Parse normalises a raw JSON options field. Malformed input yields an empty,
// non-nil list.
func Parse(raw json.RawMessage) []string {
	list, err := ParseRaw(raw)
	if err != nil {
		return []string{}
	}
	return list
}

// ParseRaw is the strict form of Parse.
func ParseRaw(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrMalformed
	}

	switch raw[0] {
	case '[':
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			return nonNil(list), nil
		}
		// Not valid JSON; might be the single-quoted form sent unquoted.
		return ParseStrict(string(raw))
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ErrMalformed
		}
		return ParseStrict(s)
	default:
		return nil, ErrMalformed
	}
}

// ParseString normalises an options string. Malformed input yields an empty,
// non-nil list.
func ParseString(s string) []string {
	list, err := ParseStrict(s)
	if err != nil {
		return []string{}
	}
	return list
}

// ParseStrict tries strict JSON first, then the single-quoted form.
func ParseStrict(s string) ([]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return nonNil(list), nil
	}

	trimmed := strings.TrimSpace(s)
	if !looksLikeQuotedList(trimmed) {
		return nil, ErrMalformed
	}

	rewritten := strings.ReplaceAll(trimmed, "'", `"`)
	if err := json.Unmarshal([]byte(rewritten), &list); err != nil {
		return nil, ErrMalformed
	}
	return nonNil(list), nil
}

func looksLikeQuotedList(s string) bool {
	return strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") && strings.Contains(s, "'")
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
