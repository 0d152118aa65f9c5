package fieldtype

import "regexp"

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether name is usable as a field name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Definition is the declared shape of a field, as supplied by callers when
// creating a schema or adding a field.
type Definition struct {
	Name        string      `json:"name" yaml:"name"`
	Type        Type        `json:"type" yaml:"type"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default     *string     `json:"default,omitempty" yaml:"default,omitempty"`
	Constraints Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// DefaultValue decodes the default into the canonical value for the
// definition's type. It returns nil when no default is set.
func (d Definition) DefaultValue() (any, error) {
	if d.Default == nil {
		return nil, nil
	}
	return ParseText(d.Type, *d.Default)
}
