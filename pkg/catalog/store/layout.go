package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
)

// FieldDescriptor is a field as captured in a version snapshot.
type FieldDescriptor struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Type        fieldtype.Type        `json:"type"`
	Required    bool                  `json:"required"`
	Default     *string               `json:"default,omitempty"`
	Constraints fieldtype.Constraints `json:"constraints"`
	Description string                `json:"description,omitempty"`
	Order       int                   `json:"order"`
	Deleted     bool                  `json:"deleted"`
}

// Layout is the ordered field layout of a schema at one version, including
// soft-deleted fields flagged as such. It is persisted as a JSON column.
type Layout struct {
	SchemaName            string            `json:"schemaName"`
	AllowAdditionalFields bool              `json:"allowAdditionalFields"`
	Fields                []FieldDescriptor `json:"fields"`
}

// LayoutOf captures the layout of schema from its field rows.
func LayoutOf(schema *SchemaRecord, fields []FieldRecord) Layout {
	l := Layout{
		SchemaName:            schema.Name,
		AllowAdditionalFields: schema.AllowAdditionalFields,
		Fields:                make([]FieldDescriptor, 0, len(fields)),
	}
	for i := range fields {
		f := &fields[i]
		l.Fields = append(l.Fields, FieldDescriptor{
			ID:          f.ID,
			Name:        f.FieldName,
			Type:        f.FieldType,
			Required:    f.IsRequired,
			Default:     f.DefaultValue,
			Constraints: f.Constraints,
			Description: f.Description,
			Order:       f.OrderIndex,
			Deleted:     f.IsDeleted(),
		})
	}
	sort.SliceStable(l.Fields, func(i, j int) bool { return l.Fields[i].Order < l.Fields[j].Order })
	return l
}

// Active returns the non-deleted fields in order.
func (l Layout) Active() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(l.Fields))
	for _, f := range l.Fields {
		if !f.Deleted {
			out = append(out, f)
		}
	}
	return out
}

// ActiveByName indexes the non-deleted fields by name.
func (l Layout) ActiveByName() map[string]FieldDescriptor {
	out := make(map[string]FieldDescriptor, len(l.Fields))
	for _, f := range l.Active() {
		out[f.Name] = f
	}
	return out
}

// Definition returns the caller-facing shape of the descriptor.
func (d FieldDescriptor) Definition() fieldtype.Definition {
	return fieldtype.Definition{
		Name:        d.Name,
		Type:        d.Type,
		Required:    d.Required,
		Default:     d.Default,
		Constraints: d.Constraints,
		Description: d.Description,
	}
}

// Scan implements sql.Scanner.
func (l *Layout) Scan(value any) error {
	if value == nil {
		*l = Layout{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for Layout: %T", value)
	}
	return json.Unmarshal(raw, l)
}

// Value implements driver.Valuer.
func (l Layout) Value() (driver.Value, error) {
	if l.Fields == nil {
		l.Fields = []FieldDescriptor{}
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
