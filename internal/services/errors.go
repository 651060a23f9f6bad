// internal/services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/coinshop/coinshop-backend/internal/models"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")

	// Internal pipeline sentinels. Both map to a successful
	// acknowledgment at the entry points.
	errAlreadyProcessed = errors.New("signal already processed")
	errNoInvoice        = errors.New("no invoice for address")
)

// AllocationError means a chain's derivation index counter is missing.
// This is a configuration defect, not a retry case.
type AllocationError struct {
	Chain models.Chain
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("index allocation failed for chain %s: %v", e.Chain, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError marks a state machine edge that does not exist.
type InvalidTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition: %s -> %s", e.From, e.To)
}

// VerificationFailure means the chain reader could not confirm a
// transaction. Retryable on the next cycle.
type VerificationFailure struct {
	Chain  models.Chain
	TxHash string
	Err    error
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification failed for %s tx %s: %v", e.Chain, e.TxHash, e.Err)
}

func (e *VerificationFailure) Unwrap() error {
	return e.Err
}
