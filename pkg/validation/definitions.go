package validation

import (
	"fmt"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
)

// Layer is one check in the field-definition pipeline. Layers run in order
// for every definition; a failing critical layer skips the remaining layers
// for that definition.
type Layer struct {
	Name     string
	Critical bool
	Check    func(def fieldtype.Definition) []string
}

// DefinitionLayers returns the standard field-definition pipeline.
func DefinitionLayers() []Layer {
	return []Layer{
		{
			Name:     "identifier",
			Critical: true,
			Check: func(def fieldtype.Definition) []string {
				if !fieldtype.ValidIdentifier(def.Name) {
					return []string{fmt.Sprintf("invalid field name %q: must start with a letter or underscore and contain only letters, digits and underscores", def.Name)}
				}
				return nil
			},
		},
		{
			Name:     "type",
			Critical: true,
			Check: func(def fieldtype.Definition) []string {
				if !def.Type.Valid() {
					return []string{fmt.Sprintf("unsupported field type %q", def.Type)}
				}
				return nil
			},
		},
		{
			Name:     "constraints",
			Critical: true,
			Check: func(def fieldtype.Definition) []string {
				return def.Constraints.Check(def.Type)
			},
		},
		{
			Name: "default",
			Check: func(def fieldtype.Definition) []string {
				if def.Default == nil {
					return nil
				}
				v, err := def.DefaultValue()
				if err != nil {
					return []string{fmt.Sprintf("default value: %v", err)}
				}
				ch, err := def.Constraints.Compile(def.Type)
				if err != nil {
					return []string{err.Error()}
				}
				var out []string
				for _, msg := range ch.Violations(v) {
					out = append(out, "default value: "+msg)
				}
				return out
			},
		},
	}
}

func (e *Engine) runLayers(def fieldtype.Definition, report *Report) {
	for _, layer := range e.layers {
		msgs := layer.Check(def)
		res := LayerResult{Layer: layer.Name, Valid: len(msgs) == 0}
		for _, msg := range msgs {
			issue := Issue{Field: def.Name, Message: msg, Severity: SeverityError}
			res.Issues = append(res.Issues, issue)
			report.Errors = append(report.Errors, issue)
		}
		report.Layers = append(report.Layers, res)
		if len(msgs) > 0 && layer.Critical {
			return
		}
	}
}

// ValidateFieldDefinitions checks a batch of field definitions: identifier
// grammar, unique names within the batch, supported types, constraints that
// fit the type and defaults that satisfy them.
func (e *Engine) ValidateFieldDefinitions(defs []fieldtype.Definition) *Report {
	report := &Report{}
	seen := make(map[string]bool, len(defs))
	dup := LayerResult{Layer: "unique_names", Valid: true}
	for _, def := range defs {
		if seen[def.Name] {
			issue := Issue{Field: def.Name, Message: fmt.Sprintf("duplicate field name %q", def.Name), Severity: SeverityError}
			dup.Valid = false
			dup.Issues = append(dup.Issues, issue)
			report.Errors = append(report.Errors, issue)
		}
		seen[def.Name] = true
	}
	report.Layers = append(report.Layers, dup)

	for _, def := range defs {
		e.runLayers(def, report)
	}
	return report
}

// ValidateAddField checks a field about to be added to a schema that
// already holds recordCount records.
func (e *Engine) ValidateAddField(def fieldtype.Definition, recordCount int64) *Report {
	report := &Report{}
	e.runLayers(def, report)
	if def.Required && def.Default == nil && recordCount > 0 {
		report.addError(def.Name, fmt.Sprintf("required field needs a default value because the schema already has %d records", recordCount))
	}
	if def.Required && def.Constraints.Unique && recordCount > 1 {
		report.addError(def.Name, fmt.Sprintf("unique required field cannot back-fill a single default into %d existing records", recordCount))
	}
	if recordCount > e.cfg.LargeSchemaThreshold {
		report.addWarning(def.Name, fmt.Sprintf("schema has %d records; back-filling defaults is linear in the record count", recordCount))
	}
	return report
}
