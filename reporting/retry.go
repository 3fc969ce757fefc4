/*
retry.go - Bounded retry for read-only reporting queries

PURPOSE:
  Reporting queries hit storage that can be briefly unreachable. This
  executor retries an operation immediately (no backoff) up to a bounded
  number of attempts, logging a warning for every failed attempt before
  the last, and propagates the final error if all attempts fail.

HARD RULE:
  Only idempotent reads go through here. Never wrap RecordTransaction,
  CreatePurchase, or CancelOrRefund - a blind retry of a non-idempotent
  debit could double-charge a balance. Mutation paths fail fast and rely
  on the original requester to resubmit explicitly.

SEE ALSO:
  - reports.go: The reporting queries built on this
*/
package reporting

import (
	"context"
	"log"
)

// DefaultMaxAttempts is the attempt budget used when callers pass 0.
const DefaultMaxAttempts = 3

// ExecuteWithRetry runs op up to maxAttempts times, returning the first
// successful result. Failed attempts before the last are logged as
// warnings; the final error is returned as-is. Retries stop early if the
// context is done.
func ExecuteWithRetry[T any](ctx context.Context, maxAttempts int, op func(context.Context) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	var result T
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		// No retry is coming when the budget is spent or the context is
		// done, so don't announce one.
		if attempt == maxAttempts || ctx.Err() != nil {
			return result, err
		}
		log.Printf("[Reporting] query attempt %d/%d failed, retrying: %v", attempt, maxAttempts, err)
	}
	return result, err
}
