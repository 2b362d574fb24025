// Package gep models the payloads delivered by the game event-integration feed.
//
// Nothing in this package returns a decode error: the feed regularly delivers
// truncated or stale fragments, and a fragment that does not parse is treated
// as "no update" by callers.
package gep

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Payload is one feature update or one decoded event body.
type Payload map[string]json.RawMessage

var jsonNull = []byte("null")

// Decode parses a string-encoded JSON fragment. Blank or malformed input yields false.
func Decode[T any](raw string) (T, bool) {
	var zero T
	s := strings.TrimSpace(raw)
	if s == "" || s == "null" {
		return zero, false
	}
	var out T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return zero, false
	}
	return out, true
}

// DecodeValue parses a payload value that is either T itself or a JSON string holding T.
func DecodeValue[T any](raw json.RawMessage) (T, bool) {
	var zero T
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		return zero, false
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return zero, false
		}
		if v, ok := Decode[T](s); ok {
			return v, true
		}
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, false
	}
	return out, true
}

// Text returns a string or number value as trimmed text.
func Text(raw json.RawMessage) (string, bool) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		return "", false
	}
	switch c := b[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return "", false
		}
		return n.String(), true
	default:
		return "", false
	}
}

// Int returns a number or numeric string value as an int.
func Int(raw json.RawMessage) (int, bool) {
	s, ok := Text(raw)
	if !ok {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// Object decodes a nested value (object or string-encoded object) into a Payload.
func Object(raw json.RawMessage) (Payload, bool) {
	p, ok := DecodeValue[Payload](raw)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}
