package model

import "errors"

var (
	// ErrNotFound indicates the requested key does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrDataQuality marks a record that failed sanity checks; callers drop it.
	ErrDataQuality = errors.New("data quality")
	// ErrInsufficientDepth is returned when a book cannot fill the requested size.
	ErrInsufficientDepth = errors.New("insufficient depth")
	// ErrCircuitOpen is returned when an exchange is skipped by its breaker.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrSchemaVersion marks a stored record written with an unknown schema.
	ErrSchemaVersion = errors.New("unsupported schema version")
)
