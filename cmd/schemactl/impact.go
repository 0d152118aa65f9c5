package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/migration"
)

var (
	impactAddFlags  fieldFlags
	impactPermanent bool
)

func newImpactCmd() *cobra.Command {
	impactCmd := &cobra.Command{
		Use:   "impact",
		Short: "Assess a proposed change without applying it",
	}

	addCmd := &cobra.Command{
		Use:   "add SCHEMA_ID",
		Short: "Assess adding a field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := impactAddFlags.definition(cmd)
			if err != nil {
				return err
			}
			a, err := reg.AnalyzeFieldAddition(cmd.Context(), args[0], def)
			if err != nil {
				return err
			}
			return printAssessment(a)
		},
	}
	impactAddFlags.register(addCmd)

	removeCmd := &cobra.Command{
		Use:   "remove SCHEMA_ID NAME",
		Short: "Assess removing a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := reg.AnalyzeFieldRemoval(cmd.Context(), args[0], args[1], impactPermanent)
			if err != nil {
				return err
			}
			return printAssessment(a)
		},
	}
	removeCmd.Flags().BoolVar(&impactPermanent, "permanent", false, "Assess a permanent removal")

	impactCmd.AddCommand(addCmd, removeCmd, &cobra.Command{
		Use:   "type SCHEMA_ID NAME NEW_TYPE",
		Short: "Assess changing a field's type",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := reg.AnalyzeTypeChange(cmd.Context(), args[0], args[1], fieldtype.Type(args[2]))
			if err != nil {
				return err
			}
			return printAssessment(a)
		},
	})
	return impactCmd
}

func printAssessment(a *migration.Assessment) error {
	return printOutput(a, func() {
		rows := [][]string{
			{"Operation", a.Operation},
			{"Field", a.FieldName},
			{"Risk", string(a.RiskLevel)},
			{"Affected records", strconv.FormatInt(a.AffectedRecords, 10)},
			{"Affected values", strconv.FormatInt(a.AffectedValues, 10)},
			{"Non-null values", strconv.FormatInt(a.NonNullValues, 10)},
			{"Data loss", strconv.FormatBool(a.DataLoss)},
			{"Reversible", strconv.FormatBool(a.Reversible)},
			{"Requires default", strconv.FormatBool(a.RequiresDefault)},
			{"Requires migration", strconv.FormatBool(a.RequiresMigration)},
			{"Estimated duration", a.EstimatedDuration.String()},
		}
		printTable([]string{"Check", "Result"}, rows)
		for _, issue := range a.Issues {
			fmt.Fprintf(stdout, "%s: %s: %s\n", issue.Severity, issue.Field, issue.Message)
		}
		for _, r := range a.Recommendations {
			fmt.Fprintf(stdout, "- %s\n", r)
		}
	})
}
