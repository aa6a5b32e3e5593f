package app

import (
	"context"
	"errors"
)

// Prune deletes archived signals created before opts.Before. Evaluation
// results are kept.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.Before.IsZero() {
		return errors.New("--before is required")
	}

	store, closeStore, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; nothing to prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	total, err := store.CountSignals(ctx)
	if err != nil {
		return err
	}
	if opts.DryRun {
		a.Logger.Warn().Int64("archived", total).Time("before", opts.Before).Msg("prune dry-run; nothing deleted")
		return nil
	}

	if err := store.DeleteSignalsBefore(ctx, opts.Before.UTC()); err != nil {
		return err
	}
	remaining, err := store.CountSignals(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("deleted", total-remaining).Int64("remaining", remaining).Msg("archive pruned")
	return nil
}
