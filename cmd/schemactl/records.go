package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/schema"
)

var (
	recordName string
	recordTag  string
	recordSets []string
)

func newRecordCmd() *cobra.Command {
	recordCmd := &cobra.Command{
		Use:     "record",
		Aliases: []string{"records"},
		Short:   "Write and read records against their schema",
	}

	createCmd := &cobra.Command{
		Use:   "create SCHEMA_ID --set name=value...",
		Short: "Create a record, validating its values against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(recordSets)
			if err != nil {
				return err
			}
			rec, err := reg.CreateRecord(cmd.Context(), schema.CreateRecordRequest{
				SchemaID: args[0],
				Name:     recordName,
				Tag:      recordTag,
				Values:   values,
				Actor:    actor,
			})
			if err != nil {
				return err
			}
			return printRecord(rec)
		},
	}
	createCmd.Flags().StringVar(&recordName, "name", "", "Record name")
	createCmd.Flags().StringVar(&recordTag, "tag", "", "Record tag")
	createCmd.Flags().StringArrayVar(&recordSets, "set", nil, "Field value as name=value; JSON values are decoded")

	setCmd := &cobra.Command{
		Use:   "set RECORD_ID --set name=value...",
		Short: "Update some values of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(recordSets)
			if err != nil {
				return err
			}
			rec, err := reg.SetRecordValues(cmd.Context(), args[0], values)
			if err != nil {
				return err
			}
			return printRecord(rec)
		},
	}
	setCmd.Flags().StringArrayVar(&recordSets, "set", nil, "Field value as name=value; JSON values are decoded")

	recordCmd.AddCommand(createCmd, setCmd,
		&cobra.Command{
			Use:   "get RECORD_ID",
			Short: "Show a record with its decoded values",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rec, err := reg.GetRecordValues(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printRecord(rec)
			},
		},
		&cobra.Command{
			Use:   "delete RECORD_ID",
			Short: "Delete a record and its values",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := reg.DeleteRecord(cmd.Context(), args[0]); err != nil {
					return err
				}
				return printOutput(map[string]any{"deleted": args[0]}, func() {
					printTable([]string{"Deleted"}, [][]string{{args[0]}})
				})
			},
		},
	)
	return recordCmd
}

// parseValues turns name=value pairs into a value map. A value that parses
// as JSON is taken as JSON, anything else as a plain string.
func parseValues(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid value %q: want name=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		values[name] = v
	}
	return values, nil
}

func printRecord(rec *schema.Record) error {
	return printOutput(rec, func() {
		printTable([]string{"ID", "Name", "Tag", "Schema"}, [][]string{{rec.ID, rec.Name, rec.Tag, rec.SchemaID}})
		fmt.Fprintln(stdout)

		names := make([]string, 0, len(rec.Values)+len(rec.Extra))
		for name := range rec.Values {
			names = append(names, name)
		}
		for name := range rec.Extra {
			if _, ok := rec.Values[name]; !ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			v, ok := rec.Values[name]
			if !ok {
				v = rec.Extra[name]
			}
			rows = append(rows, []string{name, truncate(cell(v), 60)})
		}
		printTable([]string{"Field", "Value"}, rows)
	})
}
