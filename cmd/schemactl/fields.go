package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schema"
)

// fieldFlags describe one field on the command line.
type fieldFlags struct {
	file        string
	name        string
	typ         string
	required    bool
	def         string
	constraints string
	description string
}

func (f *fieldFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Field definition file (YAML)")
	cmd.Flags().StringVar(&f.name, "name", "", "Field name")
	cmd.Flags().StringVar(&f.typ, "type", "", "Field type: "+typeNames())
	cmd.Flags().BoolVar(&f.required, "required", false, "Field is required")
	cmd.Flags().StringVar(&f.def, "default", "", "Default value")
	cmd.Flags().StringVar(&f.constraints, "constraints", "", `Constraints as JSON, e.g. '{"max_length":64}'`)
	cmd.Flags().StringVar(&f.description, "description", "", "Description")
}

// definition builds the field from a file or from flags.
func (f *fieldFlags) definition(cmd *cobra.Command) (fieldtype.Definition, error) {
	var def fieldtype.Definition
	if f.file != "" {
		err := decodeYAML(f.file, &def)
		return def, err
	}
	def = fieldtype.Definition{
		Name:        f.name,
		Type:        fieldtype.Type(f.typ),
		Required:    f.required,
		Description: f.description,
	}
	if cmd.Flags().Changed("default") {
		def.Default = &f.def
	}
	if f.constraints != "" {
		if err := json.Unmarshal([]byte(f.constraints), &def.Constraints); err != nil {
			return def, fmt.Errorf("invalid --constraints: %w", err)
		}
	}
	return def, nil
}

func typeNames() string {
	names := make([]string, 0, len(fieldtype.All()))
	for _, t := range fieldtype.All() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

var (
	addFlags        fieldFlags
	removePermanent bool
	listAll         bool
	modifyFlags     struct {
		typ         string
		required    bool
		def         string
		constraints string
		description string
		strict      bool
	}
)

func newFieldCmd() *cobra.Command {
	fieldCmd := &cobra.Command{
		Use:     "field",
		Aliases: []string{"fields"},
		Short:   "Manage the fields of a schema",
	}

	addCmd := &cobra.Command{
		Use:   "add SCHEMA_ID",
		Short: "Add a field, back-filling the default into existing records when required",
		Args:  cobra.ExactArgs(1),
		RunE:  runFieldAdd,
	}
	addFlags.register(addCmd)

	removeCmd := &cobra.Command{
		Use:   "remove SCHEMA_ID NAME",
		Short: "Soft-delete a field, or purge it with --permanent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := reg.RemoveField(cmd.Context(), args[0], args[1], removePermanent, actor)
			if err != nil {
				return err
			}
			out := map[string]any{"field": args[1], "removed": removed, "permanent": removePermanent}
			return printOutput(out, func() {
				printTable([]string{"Field", "Removed", "Permanent"}, [][]string{{
					args[1], strconv.FormatBool(removed), strconv.FormatBool(removePermanent),
				}})
			})
		},
	}
	removeCmd.Flags().BoolVar(&removePermanent, "permanent", false, "Delete the field and its values")

	modifyCmd := &cobra.Command{
		Use:   "modify SCHEMA_ID NAME",
		Short: "Change a field's type, required flag, constraints, default or description",
		Args:  cobra.ExactArgs(2),
		RunE:  runFieldModify,
	}
	modifyCmd.Flags().StringVar(&modifyFlags.typ, "type", "", "New type")
	modifyCmd.Flags().BoolVar(&modifyFlags.required, "required", false, "New required flag")
	modifyCmd.Flags().StringVar(&modifyFlags.def, "default", "", "New default value")
	modifyCmd.Flags().StringVar(&modifyFlags.constraints, "constraints", "", "New constraints as JSON")
	modifyCmd.Flags().StringVar(&modifyFlags.description, "description", "", "New description")
	modifyCmd.Flags().BoolVar(&modifyFlags.strict, "strict", true, "Fail when any stored value does not convert")

	listCmd := &cobra.Command{
		Use:   "list SCHEMA_ID",
		Short: "List the fields of a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := reg.ListFields(cmd.Context(), args[0], listAll)
			if err != nil {
				return err
			}
			return printOutput(fields, func() { printFields(fields) })
		},
	}
	listCmd.Flags().BoolVar(&listAll, "all", false, "Include soft-deleted fields")

	fieldCmd.AddCommand(addCmd, removeCmd, modifyCmd, listCmd, &cobra.Command{
		Use:   "purge SCHEMA_ID FIELD_ID",
		Short: "Purge a soft-deleted field and its values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := reg.PurgeField(cmd.Context(), args[0], args[1], actor)
			if err != nil {
				return err
			}
			return printOutput(map[string]any{"fieldId": args[1], "values": n}, func() {
				printTable([]string{"Field ID", "Values Purged"}, [][]string{{args[1], strconv.FormatInt(n, 10)}})
			})
		},
	})
	return fieldCmd
}

func runFieldAdd(cmd *cobra.Command, args []string) error {
	def, err := addFlags.definition(cmd)
	if err != nil {
		return err
	}
	f, err := reg.AddField(cmd.Context(), args[0], def, actor)
	if err != nil {
		return err
	}
	return printOutput(f, func() { printFields([]store.FieldRecord{*f}) })
}

func runFieldModify(cmd *cobra.Command, args []string) error {
	var req schema.ModifyFieldRequest
	flags := cmd.Flags()
	if flags.Changed("type") {
		t := fieldtype.Type(modifyFlags.typ)
		req.NewType = &t
	}
	if flags.Changed("required") {
		req.NewRequired = &modifyFlags.required
	}
	if flags.Changed("default") {
		req.NewDefault = &modifyFlags.def
	}
	if flags.Changed("description") {
		req.NewDescription = &modifyFlags.description
	}
	if flags.Changed("strict") {
		req.Strict = &modifyFlags.strict
	}
	if flags.Changed("constraints") {
		var c fieldtype.Constraints
		if err := json.Unmarshal([]byte(modifyFlags.constraints), &c); err != nil {
			return fmt.Errorf("invalid --constraints: %w", err)
		}
		req.NewConstraints = &c
	}

	change, err := reg.ModifyField(cmd.Context(), args[0], args[1], req, actor)
	if err != nil {
		return err
	}
	return printOutput(change, func() {
		printFields([]store.FieldRecord{*change.Field})
		fmt.Fprintf(stdout, "\nVersion %d: %s\n", change.Version, strings.Join(change.Changes, "; "))
		for _, u := range change.Unconverted {
			fmt.Fprintf(stdout, "unconverted: record %s: %s\n", u.RecordID, u.Reason)
		}
	})
}

func printFields(fields []store.FieldRecord) {
	rows := make([][]string, 0, len(fields))
	for _, f := range fields {
		def := ""
		if f.DefaultValue != nil {
			def = *f.DefaultValue
		}
		rows = append(rows, []string{
			f.ID, f.FieldName, string(f.FieldType), strconv.FormatBool(f.IsRequired),
			truncate(def, 30), string(f.State),
		})
	}
	printTable([]string{"ID", "Name", "Type", "Required", "Default", "State"}, rows)
}
