package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// applyDebtLineAllocation propagates an allocation to the originating debt
// line: adds to its paid amount and derives the status against its total.
// A nil updater or a zero id is a no-op, since manual adjustments are not
// tied to a debt line.
func applyDebtLineAllocation(ctx context.Context, lines DebtLineUpdater, debtLineID int64, amount decimal.Decimal) error {
	if lines == nil || debtLineID == 0 {
		return nil
	}
	line, err := lines.GetDebtLine(ctx, debtLineID)
	if err != nil {
		return err
	}
	paid := line.PaidAmount.Add(amount)
	return lines.UpdateDebtLine(ctx, debtLineID, paid, DeriveStatus(paid, line.Total))
}

// reverseDebtLineAllocation undoes a prior allocation when its payment
// entry is deleted. Paid amounts never go below zero.
func reverseDebtLineAllocation(ctx context.Context, lines DebtLineUpdater, debtLineID int64, amount decimal.Decimal) error {
	if lines == nil || debtLineID == 0 {
		return nil
	}
	line, err := lines.GetDebtLine(ctx, debtLineID)
	if err != nil {
		return err
	}
	paid := line.PaidAmount.Sub(amount)
	if paid.IsNegative() {
		paid = decimal.Zero
	}
	return lines.UpdateDebtLine(ctx, debtLineID, paid, DeriveStatus(paid, line.Total))
}
