/*
validator.go - The no-negative-balance invariant

PURPOSE:
  One pure function answering one question: may this delta be applied to
  this balance? Kept as explicit application code rather than a database
  trigger so the engine stays portable across storage backends.

SEE ALSO:
  - ledger.go: The only caller on the mutation path
*/
package ledger

import "math"

// IsDebitAllowed reports whether applying delta to currentBalance keeps the
// balance non-negative. Credits are always allowed. Pure, no I/O.
//
// The comparison is overflow-safe: currentBalance + delta could wrap
// positive for an extreme debit, so the check negates the delta instead.
func IsDebitAllowed(currentBalance, delta int64) bool {
	if delta >= 0 {
		return true
	}
	// math.MinInt64 has no positive counterpart; no balance covers it.
	if delta == math.MinInt64 {
		return false
	}
	return currentBalance >= -delta
}
