// Package connector polls exchanges for top-of-book quotes, tracks their
// health and writes the merged per-symbol book set to the state store.
package connector

import (
	"context"

	"github.com/rs/zerolog"

	"arbsignals/internal/model"
)

// Exchange fetches normalized books for the requested symbols in as few
// requests as the venue allows. Quotes failing normalization are dropped and
// do not make the fetch fail.
type Exchange interface {
	Name() string
	FetchBooks(ctx context.Context, symbols []string) ([]model.NormalizedBook, error)
}

// CanonicalSymbol maps a venue symbol onto the key used across the state
// store. See model.CanonicalSymbol.
func CanonicalSymbol(raw string) string {
	return model.CanonicalSymbol(raw)
}

func symbolSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[CanonicalSymbol(s)] = true
	}
	return set
}

// appendQuote normalizes q and appends it to books, logging and skipping
// quotes that fail validation.
func appendQuote(books []model.NormalizedBook, q model.Quote, logger zerolog.Logger) []model.NormalizedBook {
	book, err := model.Normalize(q)
	if err != nil {
		logger.Debug().Err(err).Str("symbol", q.Symbol).Msg("dropping quote")
		return books
	}
	return append(books, book)
}
