package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schema"
)

var (
	schemaFile      string
	schemaAssetType string
	schemaActive    bool
	historyLimit    int
	historyField    string
)

func newSchemaCmd() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:     "schema",
		Aliases: []string{"schemas"},
		Short:   "Manage schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create -f FILE",
		Short: "Create a schema from a YAML definition",
		Long: `Create a schema from a YAML definition, for example:

  name: Invoice
  assetTypeId: 0b6f...
  allowAdditionalFields: false
  fields:
    - name: amount
      type: float
      required: true
      constraints:
        min: 0`,
		Args: cobra.NoArgs,
		RunE: runSchemaCreate,
	}
	createCmd.Flags().StringVarP(&schemaFile, "file", "f", "", "Schema definition file, - for stdin")
	createCmd.Flags().StringVar(&schemaAssetType, "asset-type", "", "Asset type ID (overrides the file)")
	_ = createCmd.MarkFlagRequired("file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := reg.ListSchemas(cmd.Context(), schemaAssetType, schemaActive)
			if err != nil {
				return err
			}
			return printSchemas(items, items...)
		},
	}
	listCmd.Flags().StringVar(&schemaAssetType, "asset-type", "", "Only schemas of this asset type")
	listCmd.Flags().BoolVar(&schemaActive, "active", false, "Only active schemas")

	forkCmd := &cobra.Command{
		Use:   "fork ID NEW_NAME",
		Short: "Fork a schema, optionally applying modifications from a YAML file",
		Args:  cobra.ExactArgs(2),
		RunE:  runSchemaFork,
	}
	forkCmd.Flags().StringVarP(&schemaFile, "file", "f", "", "Modifications file with add and remove lists")

	historyCmd := &cobra.Command{
		Use:   "history ID",
		Short: "Show the change log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchemaHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries")
	historyCmd.Flags().StringVar(&historyField, "field", "", "Only changes touching this field")

	schemaCmd.AddCommand(
		createCmd,
		listCmd,
		forkCmd,
		historyCmd,
		&cobra.Command{
			Use:   "get ID",
			Short: "Show a schema and its active fields",
			Args:  cobra.ExactArgs(1),
			RunE:  runSchemaGet,
		},
		&cobra.Command{
			Use:   "stats ID",
			Short: "Show record and field counts",
			Args:  cobra.ExactArgs(1),
			RunE:  runSchemaStats,
		},
	)
	return schemaCmd
}

func runSchemaCreate(cmd *cobra.Command, args []string) error {
	var req schema.CreateSchemaRequest
	if err := decodeYAML(schemaFile, &req); err != nil {
		return err
	}
	if schemaAssetType != "" {
		req.AssetTypeID = schemaAssetType
	}
	req.Actor = actor
	s, err := reg.CreateSchema(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printSchemas(s, *s)
}

func runSchemaFork(cmd *cobra.Command, args []string) error {
	var mods schema.ForkModifications
	if schemaFile != "" {
		if err := decodeYAML(schemaFile, &mods); err != nil {
			return err
		}
	}
	s, err := reg.ForkSchema(cmd.Context(), args[0], args[1], mods, actor)
	if err != nil {
		return err
	}
	return printSchemas(s, *s)
}

func runSchemaGet(cmd *cobra.Command, args []string) error {
	view, err := reg.GetSchema(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printOutput(view, func() {
		printSchemas(nil, view.SchemaRecord)
		fmt.Fprintln(stdout)
		printFields(view.Fields)
	})
}

func runSchemaStats(cmd *cobra.Command, args []string) error {
	stats, err := reg.SchemaStatistics(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printOutput(stats, func() {
		printTable([]string{"Version", "Records", "Fields", "Deleted Fields"}, [][]string{{
			strconv.Itoa(stats.Version),
			strconv.FormatInt(stats.RecordCount, 10),
			strconv.Itoa(stats.FieldCount),
			strconv.Itoa(stats.DeletedFieldCount),
		}})
	})
}

func runSchemaHistory(cmd *cobra.Command, args []string) error {
	var (
		entries []store.ChangeLogRecord
		err     error
	)
	if historyField != "" {
		entries, err = reg.FieldHistory(cmd.Context(), args[0], historyField)
	} else {
		entries, err = reg.ChangeHistory(cmd.Context(), args[0], historyLimit)
	}
	if err != nil {
		return err
	}
	return printOutput(entries, func() {
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				strconv.Itoa(e.Version),
				string(e.ChangeType),
				truncate(e.Description, 60),
				e.ChangedBy,
				e.Timestamp.Format("2006-01-02 15:04:05"),
			})
		}
		printTable([]string{"Version", "Change", "Description", "By", "At"}, rows)
	})
}

// printSchemas prints v in structured modes and items as a table. A nil v
// prints only the table.
func printSchemas(v any, items ...store.SchemaRecord) error {
	table := func() {
		rows := make([][]string, 0, len(items))
		for _, s := range items {
			parent := ""
			if s.ParentSchemaID != nil {
				parent = *s.ParentSchemaID
			}
			rows = append(rows, []string{s.ID, s.Name, strconv.Itoa(s.Version), strconv.FormatBool(s.IsActive), parent})
		}
		printTable([]string{"ID", "Name", "Version", "Active", "Parent"}, rows)
	}
	if v == nil {
		table()
		return nil
	}
	return printOutput(v, table)
}
