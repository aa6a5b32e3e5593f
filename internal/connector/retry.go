package connector

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"arbsignals/internal/model"
)

// RetryOptions bound the attempts made for one fetch.
type RetryOptions struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Base <= 0 {
		o.Base = 500 * time.Millisecond
	}
	if o.Max < o.Base {
		o.Max = 4 * time.Second
	}
	return o
}

// Retry runs op up to opts.Attempts times with exponential backoff between
// attempts. Data-quality errors are not retried.
func Retry(ctx context.Context, opts RetryOptions, op func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Base
	b.MaxInterval = opts.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.Attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && (errors.Is(err, model.ErrDataQuality) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
