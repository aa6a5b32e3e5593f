package cli

import (
	"github.com/spf13/cobra"
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Recompute detection thresholds from the signal history once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Tune(cmd.Context())
	},
}
