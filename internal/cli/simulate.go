package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"arbsignals/internal/app"
	"arbsignals/internal/model"
)

var (
	simulateSymbol string
	simulateQuotes []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run detection once on hand-entered quotes",
	Example: `  arbsignals simulate --symbol BTCUSDT \
    --quote binance:64000:64001:2:2 --quote okx:64100:64101:2:2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulateQuotes) < 2 {
			return errors.New("at least two --quote values are required")
		}

		quotes := make([]model.Quote, 0, len(simulateQuotes))
		for _, raw := range simulateQuotes {
			q, err := app.ParseQuote(raw)
			if err != nil {
				return err
			}
			quotes = append(quotes, q)
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{Symbol: simulateSymbol, Quotes: quotes})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTCUSDT", "Symbol the quotes belong to")
	simulateCmd.Flags().StringArrayVar(&simulateQuotes, "quote", nil, "Quote as exchange:bid:ask[:bid_size:ask_size] (repeatable)")
}
