package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind enumerates the ledger transaction variants.
type EntryKind string

const (
	// KindDebtIncrease raises what is owed to the supplier, typically from a purchase order.
	KindDebtIncrease EntryKind = "DEBT_INCREASE"
	// KindPayment settles outstanding debt and is always stored negative.
	KindPayment EntryKind = "PAYMENT"
	// KindManualAdjustment is an operator-entered debt not tied to a purchase order.
	KindManualAdjustment EntryKind = "MANUAL_ADJUSTMENT"
)

// ParseEntryKind validates a caller-supplied kind string.
func ParseEntryKind(s string) (EntryKind, error) {
	switch EntryKind(s) {
	case KindDebtIncrease, KindPayment, KindManualAdjustment:
		return EntryKind(s), nil
	}
	return "", ErrValidation
}

// PaymentStatus tracks how much of a debt-bearing entry has been settled.
type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "UNPAID"
	StatusPartial PaymentStatus = "PARTIAL"
	StatusPaid    PaymentStatus = "PAID"
)

// LedgerEntry is one signed transaction in a supplier's running account.
type LedgerEntry struct {
	ID              int64
	SupplierID      int64
	DebtReferenceID *int64
	Kind            EntryKind
	SignedAmount    decimal.Decimal
	RunningBalance  decimal.Decimal
	PaidAmount      decimal.Decimal
	Status          PaymentStatus // empty for payment entries
	Number          string
	Description     string
	CreatedBy       int64
	CreatedAt       time.Time
}

// AllocationRecord links one payment entry to one debt entry it paid down.
type AllocationRecord struct {
	ID             int64
	PaymentEntryID int64
	DebtEntryID    int64
	Amount         decimal.Decimal
	CreatedAt      time.Time
}

// NormalizeAmount applies the sign convention for a kind to a caller-supplied
// amount. The caller's sign is never trusted: debt-bearing kinds are stored
// positive, payments negative. A zero amount is rejected.
func NormalizeAmount(kind EntryKind, amount decimal.Decimal) (decimal.Decimal, error) {
	magnitude := amount.Abs()
	if !magnitude.IsPositive() {
		return decimal.Zero, ErrValidation
	}
	switch kind {
	case KindPayment:
		return magnitude.Neg(), nil
	case KindDebtIncrease, KindManualAdjustment:
		return magnitude, nil
	}
	return decimal.Zero, ErrValidation
}

// DeriveStatus computes the payment status of a debt from its cumulative
// paid amount and magnitude.
func DeriveStatus(paid, magnitude decimal.Decimal) PaymentStatus {
	switch {
	case !paid.IsPositive():
		return StatusUnpaid
	case paid.GreaterThanOrEqual(magnitude):
		return StatusPaid
	default:
		return StatusPartial
	}
}

// IsDebt reports whether the entry can carry outstanding debt.
func (e LedgerEntry) IsDebt() bool {
	return e.Kind == KindDebtIncrease || e.Kind == KindManualAdjustment
}

// Owed returns the unsettled portion of a debt-bearing entry.
func (e LedgerEntry) Owed() decimal.Decimal {
	if !e.IsDebt() {
		return decimal.Zero
	}
	owed := e.SignedAmount.Abs().Sub(e.PaidAmount)
	if owed.IsNegative() {
		return decimal.Zero
	}
	return owed
}

// DebtLine is the narrow view of an originating obligation (a purchase
// order) that the ledger is permitted to touch: the total, and the two
// fields the synchronizer writes back.
type DebtLine struct {
	ID         int64
	Total      decimal.Decimal
	PaidAmount decimal.Decimal
	Status     PaymentStatus
}

// DebtLineUpdater is the port through which allocation results reach the
// owning subsystem of the debt line. Implementations run inside the same
// transaction as the ledger write.
type DebtLineUpdater interface {
	GetDebtLine(ctx context.Context, id int64) (DebtLine, error)
	UpdateDebtLine(ctx context.Context, id int64, paidAmount decimal.Decimal, status PaymentStatus) error
}
