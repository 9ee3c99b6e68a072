// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package coerce converts loosely typed upstream values into Go numbers and
// timestamps.
//
// Upstream gateways emit numbers as JSON numbers, numeric strings, empty
// strings or placeholder text depending on firmware version. Every function in
// this package is total: malformed input degrades to the caller's default and
// never panics.
package coerce

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Placeholder is the display text for an absent value. Upstreams also send it
// back verbatim, so it is treated as absent on input.
const Placeholder = "—"

// maxIntFloat is 2^63 as a float64; anything at or beyond it cannot be truncated to int.
const maxIntFloat = float64(1 << 63)

// ToInt parses raw as a number and truncates it toward zero. Numeric strings
// with a decimal point are accepted ("12.7" gives 12). Any failure returns def.
func ToInt(raw any, def int) int {
	if v := IntPtr(raw); v != nil {
		return *v
	}
	return def
}

// ToFloat parses raw as a float. The empty string, the placeholder, "nan" in
// any case and nil are absent and return def, as are infinities.
func ToFloat(raw any, def *float64) *float64 {
	if s, ok := raw.(string); ok && isAbsentText(s) {
		return def
	}
	f, ok := number(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return &f
}

// FloatOr is ToFloat with a plain default.
func FloatOr(raw any, def float64) float64 {
	return *ToFloat(raw, &def)
}

// IntPtr is ToInt returning nil instead of a default.
func IntPtr(raw any) *int {
	f, ok := number(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f >= maxIntFloat || f < -maxIntFloat {
		return nil
	}
	v := int(math.Trunc(f))
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

// ToText returns raw as trimmed text. Absent values (nil, "", the placeholder)
// report false. Numbers are formatted without a trailing ".0".
func ToText(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == Placeholder {
			return "", false
		}
		return s, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	}
	if f, ok := number(raw); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

func isAbsentText(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == Placeholder || strings.EqualFold(s, "nan")
}

// number extracts a float64 from the value shapes json.Decoder, YAML and Redis
// hand us.
func number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case json.Number:
		return parseFloat(string(v))
	case string:
		return parseFloat(v)
	case []byte:
		return parseFloat(string(v))
	default:
		return 0, false
	}
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
