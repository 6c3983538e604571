/*
errors.go - Centralized error types for the transfer engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure is terminal for the single operation - the engine never
  retries on its own, and no partial mutation survives any of them.

ERROR CATEGORIES:
  1. Lookup errors    - Missing accounts or products
  2. Validation errors - Empty transfers, stock shortfalls, price drift
  3. Storage errors   - Transient persistence failures (safe to retry)

USAGE:
  Callers match with errors.Is / errors.As:

    var shortfall *ledger.InsufficientStockError
    if errors.As(err, &shortfall) {
        // shortfall.Product, shortfall.Available, shortfall.Requested
    }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmptyTransfer is returned when a request has no items or a
	// non-positive quantity.
	ErrEmptyTransfer = errors.New("empty transfer")

	// ErrInsufficientStock is returned when the source doesn't hold enough
	// of a requested product. The whole transfer is rejected - no partial
	// application.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownProduct is returned when a product name is not in the catalog.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrDuplicateProduct is returned when creating a product whose name
	// already exists.
	ErrDuplicateProduct = errors.New("duplicate product name")

	// ErrPriceMismatch is returned when the submitted total differs from the
	// recomputed total by more than the configured tolerance.
	ErrPriceMismatch = errors.New("price mismatch")

	// ErrDuplicateAccount is returned when creating an account whose phone
	// number is already registered.
	ErrDuplicateAccount = errors.New("duplicate phone number")

	// ErrDuplicateTransfer is returned by stores when appending a record
	// whose idempotency key already exists. The engine normally resolves
	// replays before this point by returning the prior record.
	ErrDuplicateTransfer = errors.New("duplicate transfer submission")

	// ErrStorageUnavailable is returned for transient storage failures.
	// Safe to retry verbatim - no partial write occurred.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AccountNotFoundError names the missing account.
type AccountNotFoundError struct {
	AccountID AccountID
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.AccountID)
}

func (e *AccountNotFoundError) Unwrap() error { return ErrAccountNotFound }

// InsufficientStockError reports the first shortfall found, in request
// order.
type InsufficientStockError struct {
	Product   string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Not enough stock for %s. Available: %d, Requested: %d",
		e.Product, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// UnknownProductError names the product that failed catalog lookup.
type UnknownProductError struct {
	Product string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product %q", e.Product)
}

func (e *UnknownProductError) Unwrap() error { return ErrUnknownProduct }

// PriceMismatchError reports submitted vs recomputed totals.
type PriceMismatchError struct {
	Submitted decimal.Decimal
	Computed  decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price mismatch: submitted %s, computed %s",
		e.Submitted, e.Computed)
}

func (e *PriceMismatchError) Unwrap() error { return ErrPriceMismatch }

// StorageError wraps a storage-layer failure so callers see a single
// retryable sentinel regardless of driver.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorageUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a verbatim retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyTransfer) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPriceMismatch) ||
		errors.Is(err, ErrDuplicateProduct) ||
		errors.Is(err, ErrDuplicateAccount) ||
		errors.Is(err, ErrDuplicateTransfer)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrUnknownProduct)
}
