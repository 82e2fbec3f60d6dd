package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/pulse"
)

var (
	clientIDs  []string
	allClients bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build digests once",
	Long: `Builds one digest per client and exits. Pass --client for each client,
or --all for every client with an active portfolio entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := clientIDs
		if allClients {
			listed, err := core.Store.ListClients(cmd.Context())
			if err != nil {
				return fmt.Errorf("list clients: %w", err)
			}
			ids = listed
		}
		return runDigests(cmd, core.Pipeline, ids, cfg.PulsePeriodDays, cfg.PulseConcurrency)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&clientIDs, "client", nil, "Client ID (repeatable)")
	runCmd.Flags().BoolVar(&allClients, "all", false, "Run every client with an active portfolio")
	runCmd.MarkFlagsMutuallyExclusive("client", "all")
	runCmd.MarkFlagsOneRequired("client", "all")
	rootCmd.AddCommand(runCmd)
}

// clientRunner runs several clients and reports each outcome.
type clientRunner interface {
	RunClients(ctx context.Context, clientIDs []string, periodDays, concurrency int) []pulse.ClientResult
}

func runDigests(cmd *cobra.Command, runner clientRunner, ids []string, periodDays, concurrency int) error {
	if len(ids) == 0 {
		cmd.Println("No clients to process.")
		return nil
	}

	results := runner.RunClients(cmd.Context(), ids, periodDays, concurrency)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			cmd.Printf("%s: failed: %v\n", r.ClientID, r.Err)
			continue
		}
		d := r.Digest
		cmd.Printf("%s: digest %s %s, %d changes (%d high), %d/%d entries checked\n",
			r.ClientID, d.ID, d.Status, d.TotalChanges, d.CountsBySeverity[model.SeverityHigh],
			d.EntriesMonitored-d.EntriesFailed, d.EntriesMonitored)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d clients failed", failed, len(results))
	}
	return nil
}
