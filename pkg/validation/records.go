package validation

import (
	"fmt"
	"sort"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

// RecordCheck is the outcome of validating a record's values against the
// active fields of its schema.
type RecordCheck struct {
	Report *Report

	// Values holds the canonical value per field ID, ready to store.
	Values map[string]any

	// Extra holds values for names the schema does not declare, kept only
	// when the schema allows additional fields.
	Extra map[string]any
}

// ValidateRecordValues coerces values (keyed by field name) into the types
// of fields and checks required fields and constraints. When partial is
// set, absent fields are left alone; otherwise absent fields take their
// default and required fields must end up non-null.
func (e *Engine) ValidateRecordValues(fields []store.FieldRecord, allowAdditional bool, values map[string]any, partial bool) *RecordCheck {
	check := &RecordCheck{Report: &Report{}, Values: map[string]any{}, Extra: map[string]any{}}
	report := check.Report

	byName := make(map[string]*store.FieldRecord, len(fields))
	for i := range fields {
		if !fields[i].IsDeleted() {
			byName[fields[i].FieldName] = &fields[i]
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := byName[name]; ok {
			continue
		}
		if !allowAdditional {
			report.addError(name, "field is not defined by the schema")
			continue
		}
		check.Extra[name] = values[name]
	}

	for i := range fields {
		f := &fields[i]
		if f.IsDeleted() {
			continue
		}
		raw, present := values[f.FieldName]
		if !present {
			if partial {
				continue
			}
			if f.DefaultValue != nil {
				v, err := fieldtype.ParseText(f.FieldType, *f.DefaultValue)
				if err != nil {
					report.addError(f.FieldName, fmt.Sprintf("default value: %v", err))
					continue
				}
				raw = v
			}
		}

		v, err := fieldtype.Coerce(f.FieldType, raw)
		if err != nil {
			report.addError(f.FieldName, err.Error())
			continue
		}
		if v == nil && f.IsRequired {
			report.addError(f.FieldName, "required field has no value")
			continue
		}
		checker, err := f.Constraints.Compile(f.FieldType)
		if err != nil {
			report.addError(f.FieldName, err.Error())
			continue
		}
		for _, msg := range checker.Violations(v) {
			report.addError(f.FieldName, msg)
		}
		if present || v != nil {
			check.Values[f.ID] = v
		}
	}
	return check
}
