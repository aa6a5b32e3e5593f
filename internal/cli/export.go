package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"arbsignals/internal/app"
	"arbsignals/internal/connector"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportLast      time.Duration
	exportSymbol    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export archived evaluation results as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}
		if exportSymbol != "" {
			opts.Symbol = connector.CanonicalSymbol(exportSymbol)
		}
		if exportLast > 0 && exportFrom != "" {
			return fmt.Errorf("use either --from or --last")
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		if exportLast > 0 {
			end := time.Now().UTC()
			if opts.To != nil {
				end = *opts.To
			}
			from := end.Add(-exportLast)
			opts.From = &from
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive; defaults to 7 days before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum points plotted in the PNG chart")
	exportCmd.Flags().DurationVar(&exportLast, "last", 0, "Export this much history before --to, e.g. 24h")
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Only export this symbol")
}
