package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"arbsignals/internal/storage"
)

const (
	defaultExportWindow = 7 * 24 * time.Hour
	defaultMaxPoints    = 2000
)

// Export renders archived evaluation results as CSV and/or a PNG chart of
// cumulative predicted versus realised profit.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = defaultMaxPoints
	}

	store, closeStore, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListEvalResultsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if opts.Symbol != "" {
		records = filterRecords(records, opts.Symbol)
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no evaluation results found for export window")
		return nil
	}

	if opts.CSVPath != "" {
		if err := writeResultsCSV(opts.CSVPath, records); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		points := cumulativeSeries(records)
		downsampled := downsamplePoints(points, opts.MaxPoints)
		a.Logger.Info().Int("total", len(points)).Int("plotted", len(downsampled)).Msg("rendering chart")
		if err := writeResultsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("results", len(records)).Msg("export complete")
	return nil
}

func filterRecords(records []storage.EvalRecord, symbol string) []storage.EvalRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.Symbol == symbol {
			out = append(out, rec)
		}
	}
	return out
}

type profitPoint struct {
	At        time.Time
	Predicted decimal.Decimal
	Final     decimal.Decimal
}

// cumulativeSeries sums predicted and realised profit in evaluation order.
func cumulativeSeries(records []storage.EvalRecord) []profitPoint {
	points := make([]profitPoint, 0, len(records))
	predicted, final := decimal.Zero, decimal.Zero
	for _, rec := range records {
		predicted = predicted.Add(rec.PredictedProfitUSD)
		final = final.Add(rec.FinalProfitUSD)
		points = append(points, profitPoint{At: rec.EvalTS, Predicted: predicted, Final: final})
	}
	return points
}

func downsamplePoints(points []profitPoint, max int) []profitPoint {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]profitPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeResultsCSV(path string, records []storage.EvalRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"signal_id", "symbol", "buy_exchange", "sell_exchange", "open_ts", "eval_ts", "predicted_profit_usd", "final_profit_usd", "grade"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.SignalID,
			rec.Symbol,
			rec.BuyExchange,
			rec.SellExchange,
			rec.OpenTS.UTC().Format(time.RFC3339),
			rec.EvalTS.UTC().Format(time.RFC3339),
			rec.PredictedProfitUSD.String(),
			rec.FinalProfitUSD.String(),
			rec.Grade,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeResultsPNG(path string, points []profitPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	predicted := make([]float64, len(points))
	final := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.At
		predicted[i] = p.Predicted.InexactFloat64()
		final[i] = p.Final.InexactFloat64()
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cumulative profit (USD)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Predicted",
				XValues: x,
				YValues: predicted,
			},
			chart.TimeSeries{
				Name:    "Realised",
				XValues: x,
				YValues: final,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
