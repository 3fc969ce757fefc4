/*
errors.go - Centralized error taxonomy for the points engine

PURPOSE:
  All engine errors in one place. The taxonomy mirrors the failure modes
  callers actually branch on:

  1. Missing references - account, purchase, or product does not exist
  2. Invariant violations - a debit would drive a balance negative
  3. Lifecycle violations - transition out of a terminal purchase state
  4. Transient storage failures - retryable on read paths only

PROPAGATION POLICY:
  Every ledger-mutating failure aborts the whole enclosing transaction;
  nothing is partially applied. Mutation paths fail fast and are never
  retried blindly - only read-only reporting goes through the retry
  executor (see reporting package).

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, ledger.ErrInsufficientBalance) {
        var ibe *ledger.InsufficientBalanceError
        errors.As(err, &ibe) // shortfall details
    }

SEE ALSO:
  - ledger.go:              Produces InsufficientBalanceError, ErrAccountNotFound
  - purchase/coordinator.go: Produces ErrProductUnavailable, InvalidStateError
  - reporting/retry.go:      Consumes IsRetryable
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when no account exists for a
	// (driver, sponsor) pair. Accounts are created on application approval.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotFound is returned when a purchase is missing or not owned by
	// the calling driver.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance is returned when a debit would drive the
	// cached balance below zero. No state is mutated.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrProductUnavailable is returned when the catalog reports a product
	// as unavailable or cannot price it.
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrInvalidState is returned on an attempted transition out of a
	// terminal purchase state.
	ErrInvalidState = errors.New("invalid purchase state")

	// ErrTransient is returned when storage is temporarily unreachable.
	// Retryable, but only on read paths.
	ErrTransient = errors.New("transient storage failure")

	// ErrAccountExists is returned when creating an account that already exists.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidQuantity is returned when a purchase quantity falls outside
	// the accepted range. Malformed input, not a rejected valid request.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports the exact shortage of a rejected debit.
type InsufficientBalanceError struct {
	SponsorID SponsorID
	DriverID  DriverID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for driver %s under sponsor %s: available %d, requested %d",
		e.DriverID, e.SponsorID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvalidStateError reports a rejected purchase lifecycle transition.
type InvalidStateError struct {
	PurchaseID PurchaseID
	Status     PurchaseStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("purchase %s is %s; only ordered purchases can be cancelled or refunded",
		e.PurchaseID, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Only read-only paths may act on this.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is a rejected request rather
// than an engine failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrProductUnavailable) ||
		errors.Is(err, ErrAccountExists)
}
