package fieldtype

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Compatibility classifies a directional type change.
type Compatibility int

const (
	// Rejected type changes are never allowed.
	Rejected Compatibility = iota
	// Conditional type changes are allowed when every existing value converts.
	Conditional
	// Always type changes convert every value of the source type.
	Always
)

func (c Compatibility) String() string {
	switch c {
	case Always:
		return "always"
	case Conditional:
		return "conditional"
	}
	return "rejected"
}

// ErrIncompatible is returned by Convert for a rejected type pair.
var ErrIncompatible = errors.New("incompatible type change")

type pair struct{ from, to Type }

var matrix = map[pair]Compatibility{
	{Integer, Float}:  Always,
	{Float, Integer}:  Conditional,
	{Integer, String}: Always,
	{Float, String}:   Always,
	{String, Integer}: Conditional,
	{String, Float}:   Conditional,
	{Boolean, String}: Always,
	{String, Boolean}: Conditional,
	{Date, String}:    Always,
	{String, Date}:    Conditional,
	{Array, JSON}:     Always,
	{Object, JSON}:    Always,
	{JSON, Array}:     Conditional,
	{JSON, Object}:    Conditional,
}

// CompatibilityOf reports whether values of type from can be migrated to to.
func CompatibilityOf(from, to Type) Compatibility {
	if from == to && from.Valid() {
		return Always
	}
	return matrix[pair{from, to}]
}

// Convert converts a canonical value of type from into the canonical value
// of type to, failing when this particular value has no literal
// representation in the target type.
func Convert(v any, from, to Type) (any, error) {
	if CompatibilityOf(from, to) == Rejected {
		return nil, fmt.Errorf("%w: %s to %s", ErrIncompatible, from, to)
	}
	if v == nil {
		return nil, nil
	}
	if from == to {
		return v, nil
	}
	switch to {
	case String:
		return Format(from, v)
	case Float:
		if i, ok := v.(int64); ok {
			return float64(i), nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%q does not parse as float", s)
		}
		return f, nil
	case Integer:
		if f, ok := v.(float64); ok {
			return wholeFloat(f)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q does not parse as integer", s)
		}
		return i, nil
	case Boolean:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return ParseBool(s)
	case Date:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		ts, err := ParseDate(s)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case JSON:
		return v, nil
	case Array:
		if _, ok := v.([]any); !ok {
			return nil, fmt.Errorf("value is not a JSON array")
		}
		return v, nil
	case Object:
		if _, ok := v.(map[string]any); !ok {
			return nil, fmt.Errorf("value is not a JSON object")
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s to %s", ErrIncompatible, from, to)
}

// Reversible reports whether a change from -> to can be undone by a later
// change to -> from without rejecting the pair outright.
func Reversible(from, to Type) bool {
	return CompatibilityOf(from, to) != Rejected && CompatibilityOf(to, from) != Rejected
}
