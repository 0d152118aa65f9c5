package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

var (
	pageSize      int
	pageToken     string
	rollbackPurge bool
)

func newVersionCmd() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"versions"},
		Short:   "Inspect schema versions and roll back",
	}

	listCmd := &cobra.Command{
		Use:   "list SCHEMA_ID",
		Short: "List versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := reg.ListVersions(cmd.Context(), args[0], pageSize, pageToken)
			if err != nil {
				return err
			}
			return printOutput(page, func() {
				rows := make([][]string, 0, len(page.Versions))
				for _, v := range page.Versions {
					rows = append(rows, []string{
						strconv.Itoa(v.VersionNumber),
						strconv.Itoa(len(v.FieldLayout.Active())),
						truncate(v.ChangeSummary, 60),
						v.CreatedBy,
						v.CreatedAt.Format("2006-01-02 15:04:05"),
					})
				}
				printTable([]string{"Version", "Fields", "Summary", "By", "At"}, rows)
				if page.NextPageToken != "" {
					fmt.Fprintf(stdout, "\nNext page: --page-token %s\n", page.NextPageToken)
				}
			})
		},
	}
	listCmd.Flags().IntVar(&pageSize, "page-size", 20, "Versions per page")
	listCmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")

	rollbackCmd := &cobra.Command{
		Use:   "rollback SCHEMA_ID VERSION",
		Short: "Restore the field layout of an earlier version as a new version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := versionArg(args[1])
			if err != nil {
				return err
			}
			res, err := reg.Rollback(cmd.Context(), args[0], target, !rollbackPurge, actor)
			if err != nil {
				return err
			}
			return printOutput(res, func() {
				fmt.Fprintf(stdout, "Rolled back from version %d to the layout of version %d (now version %d)\n",
					res.FromVersion, res.ToVersion, res.NewVersion)
				for _, c := range res.Changes {
					fmt.Fprintf(stdout, "  %s\n", c)
				}
			})
		},
	}
	rollbackCmd.Flags().BoolVar(&rollbackPurge, "purge", false, "Delete the values of fields absent from the target version")

	versionCmd.AddCommand(listCmd, rollbackCmd,
		&cobra.Command{
			Use:   "get SCHEMA_ID VERSION",
			Short: "Show the field layout of one version",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := versionArg(args[1])
				if err != nil {
					return err
				}
				snap, err := reg.GetVersion(cmd.Context(), args[0], n)
				if err != nil {
					return err
				}
				return printOutput(snap, func() { printLayout(snap.FieldLayout) })
			},
		},
		&cobra.Command{
			Use:   "compare SCHEMA_ID V1 V2",
			Short: "Show added, removed and modified fields between two versions",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				v1, err := versionArg(args[1])
				if err != nil {
					return err
				}
				v2, err := versionArg(args[2])
				if err != nil {
					return err
				}
				diff, err := reg.CompareVersions(cmd.Context(), args[0], v1, v2)
				if err != nil {
					return err
				}
				return printOutput(diff, func() {
					var rows [][]string
					for _, name := range diff.AddedFields {
						rows = append(rows, []string{"added", name, ""})
					}
					for _, name := range diff.RemovedFields {
						rows = append(rows, []string{"removed", name, ""})
					}
					for name, changes := range diff.ModifiedFields {
						rows = append(rows, []string{"modified", name, strings.Join(changes, "; ")})
					}
					printTable([]string{"Change", "Field", "Details"}, rows)
				})
			},
		},
	)
	return versionCmd
}

func versionArg(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid version %q: want a positive integer", s)
	}
	return n, nil
}

func printLayout(l store.Layout) {
	rows := make([][]string, 0, len(l.Fields))
	for _, f := range l.Fields {
		rows = append(rows, []string{f.Name, string(f.Type), strconv.FormatBool(f.Required), strconv.FormatBool(f.Deleted)})
	}
	printTable([]string{"Name", "Type", "Required", "Deleted"}, rows)
}
