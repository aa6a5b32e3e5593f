package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"arbsignals/internal/app"
)

var (
	pruneBefore    string
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived signals older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PruneOptions{DryRun: pruneDryRun}

		switch {
		case pruneBefore != "" && pruneOlderThan > 0:
			return fmt.Errorf("use either --before or --older-than")
		case pruneBefore != "":
			before, err := time.Parse(time.RFC3339, pruneBefore)
			if err != nil {
				return fmt.Errorf("invalid --before value: %w", err)
			}
			opts.Before = before
		case pruneOlderThan > 0:
			opts.Before = time.Now().UTC().Add(-pruneOlderThan)
		default:
			return fmt.Errorf("one of --before or --older-than is required")
		}

		return getApp().Prune(cmd.Context(), opts)
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Cutoff timestamp (RFC3339, exclusive)")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Delete signals older than this age, e.g. 720h")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report without deleting")
}
