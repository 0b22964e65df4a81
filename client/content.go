package client

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrNotStructured is returned by Content.Decode for plain-text content.
var ErrNotStructured = errors.New("content is not structured")

// Content is the normalized result of a successful call: either a JSON
// object or array, or plain text.
type Content struct {
	raw        json.RawMessage
	text       string
	structured bool
	malformed  bool
}

// TextContent wraps s as plain-text content.
func TextContent(s string) Content { return Content{text: s} }

// IsStructured reports whether the content is a JSON object or array.
func (c Content) IsStructured() bool { return c.structured }

// Malformed reports that the success body was not JSON at all and Text holds
// the raw body.
func (c Content) Malformed() bool { return c.malformed }

// Text returns the plain text, or the JSON encoding for structured content.
func (c Content) Text() string {
	if c.structured {
		return string(c.raw)
	}
	return c.text
}

// JSON returns the structured payload, or nil for text content.
func (c Content) JSON() json.RawMessage {
	if !c.structured {
		return nil
	}
	return append(json.RawMessage(nil), c.raw...)
}

// Decode unmarshals structured content into v.
func (c Content) Decode(v any) error {
	if !c.structured {
		return ErrNotStructured
	}
	return json.Unmarshal(c.raw, v)
}

// normalizeBody extracts the content of a success body. The payload lives in
// "content", falling back to "response" when that is missing or empty.
func normalizeBody(body []byte) Content {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return Content{text: string(body), malformed: true}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return normalizeValue(trimmed)
	}
	for _, field := range []string{"content", "response"} {
		if v, ok := envelope[field]; ok && !isEmptyValue(v) {
			return normalizeValue(v)
		}
	}
	return Content{}
}

func isEmptyValue(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

// normalizeValue maps one JSON value to Content. Strings that themselves hold
// a JSON object or array are decoded once more; any other string stays text.
func normalizeValue(v json.RawMessage) Content {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return Content{}
	}
	switch v[0] {
	case '{', '[':
		return Content{raw: append(json.RawMessage(nil), v...), structured: true}
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return Content{text: string(v)}
		}
		inner := bytes.TrimSpace([]byte(s))
		if len(inner) > 0 && (inner[0] == '{' || inner[0] == '[') && json.Valid(inner) {
			return Content{raw: inner, structured: true}
		}
		return Content{text: s}
	default:
		return Content{text: string(v)}
	}
}
