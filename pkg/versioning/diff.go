package versioning

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

// Diff is the difference between two field layouts, matched by field name
// over the active fields of each.
type Diff struct {
	FromVersion    int                 `json:"fromVersion,omitempty"`
	ToVersion      int                 `json:"toVersion,omitempty"`
	AddedFields    []string            `json:"addedFields"`
	RemovedFields  []string            `json:"removedFields"`
	ModifiedFields map[string][]string `json:"modifiedFields"`
	Summary        DiffSummary         `json:"summary"`
}

// DiffSummary counts the entries of a Diff.
type DiffSummary struct {
	TotalChanges  int `json:"totalChanges"`
	Additions     int `json:"additions"`
	Removals      int `json:"removals"`
	Modifications int `json:"modifications"`
}

// Empty reports whether the layouts have the same active fields with the
// same attributes.
func (d Diff) Empty() bool { return d.Summary.TotalChanges == 0 }

// Compare diffs from against to. Added and removed names keep the field
// order of the layout they come from.
func Compare(from, to store.Layout) Diff {
	fromFields := from.ActiveByName()
	toFields := to.ActiveByName()
	fromNames := mapset.NewSet[string]()
	for name := range fromFields {
		fromNames.Add(name)
	}
	toNames := mapset.NewSet[string]()
	for name := range toFields {
		toNames.Add(name)
	}

	d := Diff{AddedFields: []string{}, RemovedFields: []string{}, ModifiedFields: map[string][]string{}}
	added := toNames.Difference(fromNames)
	for _, f := range to.Active() {
		if added.Contains(f.Name) {
			d.AddedFields = append(d.AddedFields, f.Name)
		}
	}
	removed := fromNames.Difference(toNames)
	for _, f := range from.Active() {
		if removed.Contains(f.Name) {
			d.RemovedFields = append(d.RemovedFields, f.Name)
		}
	}
	for name := range fromNames.Intersect(toNames).Iter() {
		if changes := FieldChanges(fromFields[name], toFields[name]); len(changes) > 0 {
			d.ModifiedFields[name] = changes
		}
	}

	d.Summary = DiffSummary{
		Additions:     len(d.AddedFields),
		Removals:      len(d.RemovedFields),
		Modifications: len(d.ModifiedFields),
	}
	d.Summary.TotalChanges = d.Summary.Additions + d.Summary.Removals + d.Summary.Modifications
	return d
}

// FieldChanges describes how the compared attributes of a field differ
// between two descriptors.
func FieldChanges(from, to store.FieldDescriptor) []string {
	var changes []string
	if from.Type != to.Type {
		changes = append(changes, fmt.Sprintf("type: %s → %s", from.Type, to.Type))
	}
	if from.Required != to.Required {
		changes = append(changes, fmt.Sprintf("required: %t → %t", from.Required, to.Required))
	}
	if !from.Constraints.Equal(to.Constraints) {
		changes = append(changes, "constraints changed")
	}
	if defaultText(from.Default) != defaultText(to.Default) {
		changes = append(changes, fmt.Sprintf("default: %s → %s", defaultText(from.Default), defaultText(to.Default)))
	}
	return changes
}

func defaultText(v *string) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%q", *v)
}
