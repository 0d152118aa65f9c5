package main

import (
	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

var assetTypeDescription string

func newAssetTypeCmd() *cobra.Command {
	assetTypeCmd := &cobra.Command{
		Use:     "asset-type",
		Aliases: []string{"asset-types", "at"},
		Short:   "Manage asset types",
	}

	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an asset type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := reg.CreateAssetType(cmd.Context(), args[0], assetTypeDescription)
			if err != nil {
				return err
			}
			return printAssetTypes(at, *at)
		},
	}
	createCmd.Flags().StringVarP(&assetTypeDescription, "description", "d", "", "Description")

	assetTypeCmd.AddCommand(
		createCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List asset types",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				items, err := reg.ListAssetTypes(cmd.Context())
				if err != nil {
					return err
				}
				return printAssetTypes(items, items...)
			},
		},
		&cobra.Command{
			Use:   "get ID",
			Short: "Show an asset type",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				at, err := reg.GetAssetType(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printAssetTypes(at, *at)
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete an asset type and every schema it owns",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := reg.DeleteAssetType(cmd.Context(), args[0]); err != nil {
					return err
				}
				return printOutput(map[string]any{"deleted": args[0]}, func() {
					printTable([]string{"Deleted"}, [][]string{{args[0]}})
				})
			},
		},
	)
	return assetTypeCmd
}

func printAssetTypes(v any, items ...store.AssetTypeRecord) error {
	return printOutput(v, func() {
		rows := make([][]string, 0, len(items))
		for _, at := range items {
			rows = append(rows, []string{at.ID, at.Name, truncate(at.Description, 50)})
		}
		printTable([]string{"ID", "Name", "Description"}, rows)
	})
}
