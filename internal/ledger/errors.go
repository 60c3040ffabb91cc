package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates malformed input: unknown kind, zero amount,
	// or a missing creditor on entry creation.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrNotFound indicates the referenced supplier or entry does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrAllocation indicates the outstanding list was exhausted before the
	// payment was fully allocated. This signals a ledger/balance desync and
	// is alert-worthy, never retried.
	ErrAllocation = errors.New("ledger: outstanding entries exhausted before payment fully allocated")
	// ErrEntryAllocated rejects deleting a debt entry that payments have
	// allocated against. Allocation records live and die with their payment
	// entry, so the payments must go first.
	ErrEntryAllocated = errors.New("ledger: entry has payment allocations")
)

// ExcessPaymentError rejects a payment that exceeds the supplier's current
// outstanding balance. It carries the balance so the caller can correct input.
type ExcessPaymentError struct {
	Amount  decimal.Decimal
	Balance decimal.Decimal
}

func (e *ExcessPaymentError) Error() string {
	return fmt.Sprintf("ledger: payment %s exceeds outstanding balance %s", e.Amount, e.Balance)
}
