// Package fieldtype defines the field types a schema may declare, how raw
// input is coerced into each type's canonical Go value, and which type
// changes are allowed on a live field.
package fieldtype

import (
	"fmt"
	"strings"
)

// Type is the declared type of a schema field.
type Type string

const (
	String  Type = "string"
	Integer Type = "integer"
	Float   Type = "float"
	Boolean Type = "boolean"
	Date    Type = "date"
	JSON    Type = "json"
	Array   Type = "array"
	Object  Type = "object"
)

var allTypes = []Type{String, Integer, Float, Boolean, Date, JSON, Array, Object}

// All returns every supported field type in declaration order.
func All() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is a supported field type.
func (t Type) Valid() bool {
	for _, s := range allTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Numeric reports whether values of t are ordered numbers.
func (t Type) Numeric() bool {
	return t == Integer || t == Float
}

// Structured reports whether values of t are stored as JSON documents.
func (t Type) Structured() bool {
	return t == JSON || t == Array || t == Object
}

func (t Type) String() string { return string(t) }

// Parse resolves a type name, case-insensitively.
func Parse(name string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(name)))
	if !t.Valid() {
		return "", fmt.Errorf("unsupported field type %q", name)
	}
	return t, nil
}
