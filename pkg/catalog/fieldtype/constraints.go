package fieldtype

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Constraints restrict the values a field accepts. It is persisted as a JSON
// column.
type Constraints struct {
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum      []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Unique    bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Indexed   bool     `json:"indexed,omitempty" yaml:"indexed,omitempty"`
}

// Scan implements sql.Scanner.
func (c *Constraints) Scan(value any) error {
	if value == nil {
		*c = Constraints{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for Constraints: %T", value)
	}
	if len(raw) == 0 {
		*c = Constraints{}
		return nil
	}
	return json.Unmarshal(raw, c)
}

// Value implements driver.Valuer.
func (c Constraints) Value() (driver.Value, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// IsZero reports whether no constraint is set.
func (c Constraints) IsZero() bool {
	return c.Min == nil && c.Max == nil && c.MinLength == nil && c.MaxLength == nil &&
		c.Pattern == "" && c.Enum == nil && !c.Unique && !c.Indexed
}

// Equal compares two constraint sets by their persisted form.
func (c Constraints) Equal(o Constraints) bool {
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(o)
	return errA == nil && errB == nil && string(a) == string(b)
}

// Check reports structural problems with c for a field of type t.
func (c Constraints) Check(t Type) []string {
	var problems []string
	if c.Min != nil || c.Max != nil {
		if !t.Numeric() {
			problems = append(problems, fmt.Sprintf("min/max only apply to numeric fields, not %s", t))
		} else if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			problems = append(problems, "min is greater than max")
		}
	}
	if c.MinLength != nil || c.MaxLength != nil {
		if t != String && t != Array {
			problems = append(problems, fmt.Sprintf("min_length/max_length only apply to string or array fields, not %s", t))
		}
		if c.MinLength != nil && *c.MinLength < 0 {
			problems = append(problems, "min_length must not be negative")
		}
		if c.MaxLength != nil && *c.MaxLength < 0 {
			problems = append(problems, "max_length must not be negative")
		}
		if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
			problems = append(problems, "min_length is greater than max_length")
		}
	}
	if c.Pattern != "" {
		if t != String {
			problems = append(problems, fmt.Sprintf("pattern only applies to string fields, not %s", t))
		} else if _, err := regexp.Compile(c.Pattern); err != nil {
			problems = append(problems, fmt.Sprintf("pattern does not compile: %v", err))
		}
	}
	if c.Enum != nil {
		switch {
		case len(c.Enum) == 0:
			problems = append(problems, "enum must list at least one value")
		case t.Structured():
			problems = append(problems, fmt.Sprintf("enum does not apply to %s fields", t))
		default:
			for _, e := range c.Enum {
				if _, err := Coerce(t, e); err != nil {
					problems = append(problems, fmt.Sprintf("enum value %v: %v", e, err))
				}
			}
		}
	}
	if (c.Unique || c.Indexed) && t.Structured() {
		problems = append(problems, fmt.Sprintf("unique/indexed do not apply to %s fields", t))
	}
	return problems
}

// Checker evaluates per-value constraints for one field type. Build it once
// per scan with Compile.
type Checker struct {
	t       Type
	c       Constraints
	pattern *regexp.Regexp
	enum    []any
}

// Compile prepares c for repeated evaluation against values of type t.
func (c Constraints) Compile(t Type) (*Checker, error) {
	if problems := c.Check(t); len(problems) > 0 {
		return nil, fmt.Errorf("invalid constraints: %s", problems[0])
	}
	ch := &Checker{t: t, c: c}
	if c.Pattern != "" {
		ch.pattern = regexp.MustCompile(c.Pattern)
	}
	for _, e := range c.Enum {
		v, _ := Coerce(t, e)
		ch.enum = append(ch.enum, v)
	}
	return ch, nil
}

// Violations lists every constraint the canonical value v breaks. Nil
// values never violate a constraint.
func (ch *Checker) Violations(v any) []string {
	if v == nil {
		return nil
	}
	var out []string
	c := ch.c
	if ch.t.Numeric() {
		f, _ := asFloat(v)
		if c.Min != nil && f < *c.Min {
			out = append(out, fmt.Sprintf("%v is below min %v", v, formatFloat(*c.Min)))
		}
		if c.Max != nil && f > *c.Max {
			out = append(out, fmt.Sprintf("%v is above max %v", v, formatFloat(*c.Max)))
		}
	}
	if c.MinLength != nil || c.MaxLength != nil {
		n := -1
		switch x := v.(type) {
		case string:
			n = utf8.RuneCountInString(x)
		case []any:
			n = len(x)
		}
		if n >= 0 && c.MinLength != nil && n < *c.MinLength {
			out = append(out, fmt.Sprintf("length %d is below min_length %d", n, *c.MinLength))
		}
		if n >= 0 && c.MaxLength != nil && n > *c.MaxLength {
			out = append(out, fmt.Sprintf("length %d exceeds max_length %d", n, *c.MaxLength))
		}
	}
	if ch.pattern != nil {
		if s, ok := v.(string); ok && !ch.pattern.MatchString(s) {
			out = append(out, fmt.Sprintf("%q does not match pattern %q", s, c.Pattern))
		}
	}
	if ch.enum != nil {
		found := false
		for _, e := range ch.enum {
			if Equal(e, v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, fmt.Sprintf("%v is not one of the allowed values", v))
		}
	}
	return out
}
