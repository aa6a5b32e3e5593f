package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"arbsignals/internal/model"
	"arbsignals/internal/storage"
)

const summaryWindow = 24 * time.Hour

// Show prints the current signal set or the most recent evaluation results.
// Results come from the archive when one is configured, otherwise from the
// shared state log.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	st, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Signals {
		signals, err := st.Signals(ctx)
		if err != nil {
			return err
		}
		if opts.Symbol != "" {
			signals = filterSignals(signals, opts.Symbol)
		}
		if len(signals) > opts.Limit && opts.Limit > 0 {
			signals = signals[:opts.Limit]
		}
		return renderSignals(os.Stdout, signals)
	}

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	var results []model.VirtualEvalResult
	if archive != nil {
		records, err := archive.ListRecentEvalResults(ctx, opts.Limit)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if opts.Symbol == "" || rec.Symbol == opts.Symbol {
				results = append(results, rec.Result())
			}
		}
	} else {
		results, err = st.RecentEvalResults(ctx, opts.Symbol, opts.Limit)
		if err != nil {
			return err
		}
	}

	if err := renderResults(os.Stdout, results); err != nil {
		return err
	}

	if archive != nil {
		summary, err := archive.GradeSummary(ctx, time.Now().UTC().Add(-summaryWindow))
		if err != nil {
			return err
		}
		return renderSummary(os.Stdout, summary)
	}
	return nil
}

func filterSignals(signals []model.Signal, symbol string) []model.Signal {
	out := signals[:0:0]
	for _, s := range signals {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out
}

func renderSignals(w io.Writer, signals []model.Signal) error {
	if len(signals) == 0 {
		_, err := fmt.Fprintln(w, "no signals found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tSymbol\tBuy\tSell\tVolume$\tProfit$\tProfitBps\tSpreadBps\tSeverity\tID")
	for _, s := range signals {
		fmt.Fprintf(writer, "%s\t%s\t%s@%s\t%s@%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.CreatedAt.UTC().Format(time.RFC3339),
			s.Symbol,
			s.Route.BuyExchange, formatFloat(s.Route.BuyPrice, 4),
			s.Route.SellExchange, formatFloat(s.Route.SellPrice, 4),
			formatFloat(s.VolumeUSD, 2),
			formatFloat(s.ProfitUSD, 4),
			formatFloat(s.ProfitBps, 2),
			formatFloat(s.SpreadBps, 2),
			s.Severity,
			s.ID,
		)
	}
	return writer.Flush()
}

func renderResults(w io.Writer, results []model.VirtualEvalResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no evaluation results found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Evaluated (UTC)\tSymbol\tRoute\tPredicted$\tFinal$\tGrade\tSignal")
	for _, r := range results {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.EvalTS.UTC().Format(time.RFC3339),
			r.Symbol,
			sanitizeInline(r.BuyExchange+">"+r.SellExchange),
			formatFloat(r.PredictedProfitUSD, 4),
			formatFloat(r.FinalProfitUSD, 4),
			r.Grade,
			r.SignalID,
		)
	}
	return writer.Flush()
}

func renderSummary(w io.Writer, summary []storage.GradeSummary) error {
	if len(summary) == 0 {
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "\nLast %s\nGrade\tCount\tFinal$\tPredicted$\n", summaryWindow)
	for _, row := range summary {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\n",
			row.Grade,
			row.Count,
			formatDecimal(row.TotalFinalUSD, 4),
			formatDecimal(row.TotalPredicted, 4),
		)
	}
	return writer.Flush()
}

func formatFloat(v float64, places int32) string {
	return formatDecimal(decimal.NewFromFloat(v), places)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
