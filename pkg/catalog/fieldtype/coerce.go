package fieldtype

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Canonical Go representations per type:
//
//	string  -> string
//	integer -> int64
//	float   -> float64
//	boolean -> bool
//	date    -> time.Time (UTC)
//	json    -> any decoded JSON value
//	array   -> []any
//	object  -> map[string]any

var (
	trueTokens  = map[string]bool{"true": true, "1": true, "yes": true}
	falseTokens = map[string]bool{"false": true, "0": true, "no": true}

	dateLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
)

// ParseBool accepts the canonical boolean tokens true/false/1/0/yes/no.
func ParseBool(s string) (bool, error) {
	tok := strings.ToLower(strings.TrimSpace(s))
	switch {
	case trueTokens[tok]:
		return true, nil
	case falseTokens[tok]:
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean token", s)
}

// ParseDate accepts RFC 3339 timestamps and plain dates.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a date", s)
}

// ParseText decodes the textual form of a value, as used for default values
// and command-line input. Structured types are read as JSON documents.
func ParseText(t Type, s string) (any, error) {
	switch t {
	case String:
		return s, nil
	case JSON, Array, Object:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("invalid %s document: %w", t, err)
		}
		return Coerce(t, v)
	}
	return Coerce(t, s)
}

// Coerce normalizes an arbitrary input value into the canonical Go value
// for t. A nil input stays nil.
func Coerce(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case String:
		return coerceString(v)
	case Integer:
		return coerceInteger(v)
	case Float:
		return coerceFloat(v)
	case Boolean:
		return coerceBoolean(v)
	case Date:
		return coerceDate(v)
	case JSON:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return normalizeJSON(v)
	case Array:
		n, err := structured(v)
		if err != nil {
			return nil, err
		}
		if _, ok := n.([]any); !ok {
			return nil, fmt.Errorf("expected a JSON array, got %T", n)
		}
		return n, nil
	case Object:
		n, err := structured(v)
		if err != nil {
			return nil, err
		}
		if _, ok := n.(map[string]any); !ok {
			return nil, fmt.Errorf("expected a JSON object, got %T", n)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unsupported field type %q", t)
}

func coerceString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		return x.String(), nil
	}
	if f, ok := asFloat(v); ok {
		return formatFloat(f), nil
	}
	return nil, fmt.Errorf("cannot use %T as string", v)
}

func coerceInteger(v any) (any, error) {
	switch x := v.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", x)
		}
		return i, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", x)
		}
		return wholeFloat(f)
	case float32:
		return wholeFloat(float64(x))
	case float64:
		return wholeFloat(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows integer", u)
		}
		return int64(u), nil
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

func wholeFloat(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("%v has a fractional part", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%v overflows integer", f)
	}
	return int64(f), nil
}

func coerceFloat(v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", x)
		}
		f = parsed
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", x)
		}
		f = parsed
	default:
		parsed, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot use %T as float", v)
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%v is not a finite number", f)
	}
	return f, nil
}

func coerceBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return ParseBool(x)
	}
	if f, ok := asFloat(v); ok {
		switch f {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	}
	return nil, fmt.Errorf("cannot use %v as boolean", v)
}

func coerceDate(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UTC(), nil
	case string:
		return ParseDate(x)
	}
	return nil, fmt.Errorf("cannot use %T as date", v)
}

// structured accepts either an already-decoded value or its JSON text.
func structured(v any) (any, error) {
	if s, ok := v.(string); ok {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("invalid JSON document: %w", err)
		}
		return out, nil
	}
	return normalizeJSON(v)
}

// normalizeJSON round-trips v through encoding/json so that maps, slices and
// numbers take the same shape they have after being read back from storage.
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Format renders a canonical value as text. It is the inverse of ParseText.
func Format(t Type, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	switch t {
	case String:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case Integer:
		i, ok := v.(int64)
		if !ok {
			return "", fmt.Errorf("expected int64, got %T", v)
		}
		return strconv.FormatInt(i, 10), nil
	case Float:
		f, ok := v.(float64)
		if !ok {
			return "", fmt.Errorf("expected float64, got %T", v)
		}
		return formatFloat(f), nil
	case Boolean:
		b, ok := v.(bool)
		if !ok {
			return "", fmt.Errorf("expected bool, got %T", v)
		}
		return strconv.FormatBool(b), nil
	case Date:
		ts, ok := v.(time.Time)
		if !ok {
			return "", fmt.Errorf("expected time.Time, got %T", v)
		}
		return ts.UTC().Format(time.RFC3339Nano), nil
	case JSON, Array, Object:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("unsupported field type %q", t)
}

// Equal compares two canonical values of the same type.
func Equal(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if okA && okB {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
