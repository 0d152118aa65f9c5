package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubeflow/schema-registry/pkg/schema"
)

func newRetentionCmd() *cobra.Command {
	retentionCmd := &cobra.Command{
		Use:   "retention",
		Short: "Purge soft-deleted fields past the retention window",
	}

	retentionCmd.AddCommand(
		&cobra.Command{
			Use:   "sweep",
			Short: "Run one retention sweep now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				report, err := reg.SweepExpired(cmd.Context())
				if report != nil {
					if perr := printPurgeReport(report); perr != nil {
						return perr
					}
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Sweep on the configured interval until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				reg.RunRetention(ctx)
				return nil
			},
		},
	)
	return retentionCmd
}

func printPurgeReport(r *schema.PurgeReport) error {
	return printOutput(r, func() {
		printTable([]string{"Cutoff", "Fields", "Values"}, [][]string{{
			r.Cutoff.Format(time.RFC3339), strconv.Itoa(r.Fields), strconv.FormatInt(r.Values, 10),
		}})
	})
}
