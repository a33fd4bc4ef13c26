package cmd

import (
	"github.com/spf13/cobra"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

const recentScanLimit = 10

// statusCmd represents the status command.
var statusCmd = newStatusCmd()

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state database",
		Long: `Show file and registration counters, the most recent scans and the files
that will be tagged on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			return withStore(ctx, func(store adapter.StateStore) error {
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}

				scans, err := store.RecentScans(ctx, recentScanLimit)
				if err != nil {
					return err
				}

				pending, err := store.PendingTag(ctx)
				if err != nil {
					return err
				}

				stale, err := store.RegisteredStale(ctx, stats.Era)
				if err != nil {
					return err
				}

				return ui.DisplayStatus(ctx, stats, scans, mergeRecords(pending, stale))
			})
		},
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// mergeRecords appends the records of b whose path is not already in a.
func mergeRecords(a, b []*m.FileRecord) []*m.FileRecord {
	seen := make(map[m.Path]bool, len(a))
	for _, rec := range a {
		seen[rec.Path] = true
	}

	for _, rec := range b {
		if !seen[rec.Path] {
			a = append(a, rec)
		}
	}

	return a
}
