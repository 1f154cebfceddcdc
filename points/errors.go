/*
errors.go - Error types for the ledger engine

PURPOSE:
  All ledger errors in one place. None of them signal a bug: they are the
  expected outcomes of operations reachable from the UI, returned as values
  so the caller can choose the message.

ERROR CATEGORIES:
  1. Validation - bad input, rejected before any state is touched
  2. Refusal    - business rule said no (insufficient points, out of stock)
  3. Lookup     - the referenced user, rule or item does not exist

USAGE:
  _, _, err := engine.Purchase(user, item)
  if errors.Is(err, points.ErrInsufficientPoints) {
      // tell the user they need more points
  }

SEE ALSO:
  - ledger.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientPoints is returned when a purchase costs more than the balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrOutOfStock is returned when a purchase targets an item with no stock left.
	ErrOutOfStock = errors.New("out of stock")

	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrActionNotFound is returned when a referenced rule does not exist.
	ErrActionNotFound = errors.New("action not found")

	// ErrItemNotFound is returned when a referenced shop item does not exist.
	ErrItemNotFound = errors.New("shop item not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// RefusalReason names the business rule that refused a purchase.
type RefusalReason string

const (
	ReasonInsufficientPoints RefusalReason = "insufficient_points"
	ReasonOutOfStock         RefusalReason = "out_of_stock"
)

// PurchaseError is a refused purchase. It unwraps to ErrInsufficientPoints or
// ErrOutOfStock depending on Reason.
type PurchaseError struct {
	UserID  string
	ItemID  string
	Balance int
	Cost    int
	Stock   int
	Reason  RefusalReason
}

func (e *PurchaseError) Error() string {
	switch e.Reason {
	case ReasonInsufficientPoints:
		return fmt.Sprintf("insufficient points: balance %d, cost %d, shortfall %d",
			e.Balance, e.Cost, e.Cost-e.Balance)
	case ReasonOutOfStock:
		return fmt.Sprintf("out of stock: item %s", e.ItemID)
	default:
		return "purchase refused"
	}
}

func (e *PurchaseError) Unwrap() error {
	switch e.Reason {
	case ReasonInsufficientPoints:
		return ErrInsufficientPoints
	case ReasonOutOfStock:
		return ErrOutOfStock
	default:
		return nil
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if err was caused by invalid input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsRefusal returns true if err is a business-rule refusal.
func IsRefusal(err error) bool {
	return errors.Is(err, ErrInsufficientPoints) || errors.Is(err, ErrOutOfStock)
}

// IsNotFound returns true if err indicates a missing user, rule or item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrActionNotFound) ||
		errors.Is(err, ErrItemNotFound)
}
