package connector

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// parseNumber reads an exchange decimal string. Unparseable or empty values
// come back as zero and are rejected by normalization.
func parseNumber(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func parseMillis(raw string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}
