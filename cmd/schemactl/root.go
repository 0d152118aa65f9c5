package main

import (
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/config"
	"github.com/kubeflow/schema-registry/pkg/registry"
)

var (
	configFile string
	outputFmt  string
	actor      string

	// stdout is where command output goes.
	stdout io.Writer = os.Stdout

	reg *registry.Registry
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "schemactl",
		Short: "Operate the metadata schema registry",
		Long: `schemactl manages asset types, schemas, fields and records in the schema
registry database, inspects version history, rolls schemas back and renders
migration scripts.

Settings come from --config (YAML), then SCHEMAREG_* environment variables,
e.g. SCHEMAREG_DATABASE_TYPE=postgres SCHEMAREG_DATABASE_DSN=...`,
		SilenceUsage:      true,
		PersistentPreRunE: openRegistry,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "Name recorded as the author of changes")

	rootCmd.AddCommand(newAssetTypeCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newFieldCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newImpactCmd())
	rootCmd.AddCommand(newScriptCmd())
	rootCmd.AddCommand(newRetentionCmd())
	return rootCmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "schemactl"
}

func openRegistry(cmd *cobra.Command, args []string) error {
	switch outputFmt {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format: %s (use table, json or yaml)", outputFmt)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	logger := cfg.Log.Logger(os.Stderr)
	r, err := registry.Open(cmd.Context(), *cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	reg = r
	return nil
}

func closeRegistry() error {
	if reg == nil {
		return nil
	}
	err := reg.Close()
	reg = nil
	return err
}
