// Package validation checks field definitions and proposed schema changes
// against the catalog store without ever modifying it.
package validation

import "strings"

// Severity distinguishes blocking errors from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RiskLevel grades the consequence of a proposed change.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Issue is one finding of a validation run.
type Issue struct {
	// Field is the field the issue refers to, if any.
	Field string `json:"field,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`

	// RecordIDs lists the records whose stored values triggered the issue.
	RecordIDs []string `json:"recordIds,omitempty"`

	Severity Severity `json:"severity"`
}

// LayerResult holds the outcome of one validation layer.
type LayerResult struct {
	Layer  string  `json:"layer"`
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues,omitempty"`
}

// Report is the result of a validation run. Validation never fails for
// expected input problems; it reports them here.
type Report struct {
	Errors   []Issue       `json:"errors,omitempty"`
	Warnings []Issue       `json:"warnings,omitempty"`
	Layers   []LayerResult `json:"layers,omitempty"`
}

// Valid reports whether the run found no errors.
func (r *Report) Valid() bool { return r == nil || len(r.Errors) == 0 }

func (r *Report) addError(field, msg string, recordIDs ...string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: msg, RecordIDs: recordIDs, Severity: SeverityError})
}

func (r *Report) addWarning(field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: msg, Severity: SeverityWarning})
}

// Merge appends the findings of other.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Layers = append(r.Layers, other.Layers...)
}

// RecordIDs returns every record ID referenced by an error, in order and
// without duplicates.
func (r *Report) RecordIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, issue := range r.Errors {
		for _, id := range issue.RecordIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Summary joins the error messages into one line.
func (r *Report) Summary() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Field != "" {
			msgs = append(msgs, e.Field+": "+e.Message)
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
