package httpclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PermanentError marks an error as not worth retrying: the caller should
// abandon the operation rather than keep spending the retry budget.
func PermanentError(err error) error {
	return backoff.Permanent(err)
}

// RetryWithBudget runs op with exponential backoff until it succeeds, a
// PermanentError is returned, ctx is cancelled, or maxElapsed has passed
// — mirroring original_source/ipfs.rs's
// ExponentialBackoffBuilder::with_max_elapsed_time budgets.
func RetryWithBudget(ctx context.Context, maxElapsed time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
