package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dialectName string

func newScriptCmd() *cobra.Command {
	scriptCmd := &cobra.Command{
		Use:   "script",
		Short: "Render SQL scripts for relational targets",
		Long: `Render SQL scripts for relational targets. Scripts are printed, never
executed. Supported dialects: postgres (postgresql, pg), mysql, sqlite.`,
	}

	scriptCmd.PersistentFlags().StringVarP(&dialectName, "dialect", "d", "postgres", "SQL dialect")

	scriptCmd.AddCommand(
		&cobra.Command{
			Use:   "migrate SCHEMA_ID FROM TO",
			Short: "DDL moving the table from one version to another",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				from, to, err := versionRange(args[1], args[2])
				if err != nil {
					return err
				}
				return printScript(reg.GenerateMigrationScript(cmd.Context(), args[0], from, to, dialectName))
			},
		},
		&cobra.Command{
			Use:   "rollback SCHEMA_ID TARGET",
			Short: "DDL moving the table from the current version back to TARGET",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := versionArg(args[1])
				if err != nil {
					return err
				}
				return printScript(reg.GenerateRollbackScript(cmd.Context(), args[0], target, dialectName))
			},
		},
		&cobra.Command{
			Use:   "ddl SCHEMA_ID",
			Short: "CREATE TABLE for the current version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return printScript(reg.GenerateDDL(cmd.Context(), args[0], dialectName))
			},
		},
		&cobra.Command{
			Use:   "data SCHEMA_ID FROM TO",
			Short: "field_values updates re-encoding values changed between versions",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				from, to, err := versionRange(args[1], args[2])
				if err != nil {
					return err
				}
				return printScript(reg.GenerateDataMigration(cmd.Context(), args[0], from, to, dialectName))
			},
		},
	)
	return scriptCmd
}

func versionRange(a, b string) (int, int, error) {
	from, err := versionArg(a)
	if err != nil {
		return 0, 0, err
	}
	to, err := versionArg(b)
	return from, to, err
}

// printScript writes scripts verbatim in table mode.
func printScript(script string, err error) error {
	if err != nil {
		return err
	}
	return printOutput(map[string]string{"dialect": dialectName, "script": script}, func() {
		fmt.Fprint(stdout, script)
	})
}
