/*
retry.go - Bounded retry with backoff

PURPOSE:
  A small combinator replacing nested try/catch retry loops: run fn,
  and while the error satisfies the retryable predicate and delays
  remain, wait and run it again. The delay schedule bounds the retry
  count - len(delays) retries after the initial try.

USAGE:
  err := payment.Retry(ctx, delays, ledger.IsRetryable, func(try int) error {
      return send(try)
  })

SEE ALSO:
  - executor.go: Uses this for ordering-conflict retries (2s, 4s, 6s)
*/
package payment

import (
	"context"
	"time"
)

// Retry runs fn up to 1+len(delays) times, waiting delays[i] before
// retry i. A non-retryable error, a nil error, or an exhausted schedule
// ends the loop; the last error is returned. Context cancellation during
// a wait returns ctx.Err().
//
// fn receives the zero-based try number.
func Retry(ctx context.Context, delays []time.Duration, retryable func(error) bool, fn func(try int) error) error {
	var err error
	for try := 0; ; try++ {
		err = fn(try)
		if err == nil || !retryable(err) || try >= len(delays) {
			return err
		}

		select {
		case <-time.After(delays[try]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
