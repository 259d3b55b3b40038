// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"strconv"
	"strings"
)

// Fields is a loosely typed key/value set used for command arguments and
// decoded reply info. Values keep their natural Go type; the getters
// convert between numeric representations.
type Fields map[string]any

// Args holds command arguments
type Args = Fields

// Info holds decoded reply data
type Info = Fields

// Uint returns key as an unsigned integer
func (f Fields) Uint(key string) (uint64, bool) {
	v, ok := f.Int(key)
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// Int returns key as a signed integer
func (f Fields) Int(key string) (int64, bool) {
	if f == nil {
		return 0, false
	}
	return toInt(f[key])
}

// String returns key as a string
func (f Fields) String(key string) (string, bool) {
	if f == nil {
		return "", false
	}
	s, ok := f[key].(string)
	return s, ok
}

// Bool returns key as a bool. Missing keys are false.
func (f Fields) Bool(key string) bool {
	if f == nil {
		return false
	}
	switch val := f[key].(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	}
	if n, ok := toInt(f[key]); ok {
		return n != 0
	}
	return false
}

// Bytes returns key as a byte slice
func (f Fields) Bytes(key string) ([]byte, bool) {
	if f == nil {
		return nil, false
	}
	switch val := f[key].(type) {
	case []byte:
		return val, true
	case []int:
		out := make([]byte, len(val))
		for i, n := range val {
			out[i] = byte(n)
		}
		return out, true
	}
	return nil, false
}

// Ints returns key as a list of integers. Comma separated strings are
// accepted.
func (f Fields) Ints(key string) ([]int, bool) {
	if f == nil {
		return nil, false
	}
	switch val := f[key].(type) {
	case []int:
		return val, true
	case []any:
		out := make([]int, 0, len(val))
		for _, item := range val {
			n, ok := toInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, int(n))
		}
		return out, true
	case string:
		if val == "" {
			return []int{}, true
		}
		parts := strings.Split(val, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	}
	if n, ok := toInt(f[key]); ok {
		return []int{int(n)}, true
	}
	return nil, false
}

func toInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 0, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// ParseFields parses key=value pairs. Integers, booleans and comma lists
// of integers keep their type, everything else stays a string.
func ParseFields(pairs []string) (Fields, error) {
	f := Fields{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, &ArgumentError{Key: pair, Reason: "expected key=value"}
		}
		f[key] = parseValue(value)
	}
	return f, nil
}

func parseValue(s string) any {
	// Leading zeros mark hex strings such as fixed keys, not numbers
	if len(s) > 1 && s[0] == '0' && s[1] != 'x' {
		return s
	}
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// Denomination is one entry of a payout or float by denomination request
type Denomination struct {
	Number       int
	Denomination int
	CountryCode  string
}

// Denominations returns key as a denomination list. Strings use the form
// "number:denomination:CCY[,...]".
func (f Fields) Denominations(key string) ([]Denomination, bool) {
	if f == nil {
		return nil, false
	}
	switch val := f[key].(type) {
	case []Denomination:
		return val, true
	case string:
		var out []Denomination
		for _, item := range strings.Split(val, ",") {
			parts := strings.Split(strings.TrimSpace(item), ":")
			if len(parts) != 3 {
				return nil, false
			}
			number, err := strconv.Atoi(parts[0])
			if err != nil {
				return nil, false
			}
			denomination, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, false
			}
			out = append(out, Denomination{Number: number, Denomination: denomination, CountryCode: parts[2]})
		}
		return out, true
	}
	return nil, false
}

// ArgumentError reports a missing or invalid command argument
type ArgumentError struct {
	Command string
	Key     string
	Reason  string
}

// Error implements the error interface
func (e *ArgumentError) Error() string {
	if e.Command == "" {
		return "argument " + e.Key + ": " + e.Reason
	}
	return e.Command + ": argument " + e.Key + ": " + e.Reason
}

// Unwrap makes ArgumentError match ErrArgsMissing
func (e *ArgumentError) Unwrap() error {
	return ErrArgsMissing
}
