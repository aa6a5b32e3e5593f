package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"arbsignals/internal/app"
	"arbsignals/internal/connector"
)

var (
	showLimit   int
	showSymbol  string
	showSignals bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent evaluation results or the current signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Signals: showSignals,
		}
		if showSymbol != "" {
			opts.Symbol = connector.CanonicalSymbol(showSymbol)
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Only show this symbol")
	showCmd.Flags().BoolVar(&showSignals, "signals", false, "Show the current signal set instead of results")
}
