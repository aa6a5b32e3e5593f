package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Tune runs a single tuner cycle against the shared state and prints the
// snapshot it stored.
func (a *App) Tune(ctx context.Context) error {
	st, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := a.newTuner(st, nil).Cycle(ctx)
	if err != nil {
		return err
	}

	floors := a.Config.Thresholds()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Threshold\tFloor\tTuned")
	fmt.Fprintf(writer, "min_net_profit_usd\t%s\t%s\n", formatFloat(floors.MinNetProfitUSD, 4), formatFloat(snap.MinNetProfitUSD, 4))
	fmt.Fprintf(writer, "min_spread_bps\t%s\t%s\n", formatFloat(floors.MinSpreadBps, 2), formatFloat(snap.MinSpreadBps, 2))
	fmt.Fprintf(writer, "min_volume_usd\t%s\t%s\n", formatFloat(floors.MinVolumeUSD, 2), formatFloat(snap.MinVolumeUSD, 2))
	fmt.Fprintf(writer, "samples\t\t%d\nupdated\t\t%s\n", snap.SampleCount, snap.UpdatedAt.UTC().Format(time.RFC3339))
	return writer.Flush()
}
