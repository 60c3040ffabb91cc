package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// reconcile recomputes every running balance for the supplier from a zero
// prefix sum, persists only the values that changed, and sets the cached
// aggregate to the final sum. Idempotent; the canonical repair operation.
func reconcile(ctx context.Context, tx TxRepository, supplierID int64) (decimal.Decimal, error) {
	entries, err := tx.ListEntries(ctx, supplierID)
	if err != nil {
		return decimal.Zero, err
	}

	running := decimal.Zero
	for _, entry := range entries {
		running = running.Add(entry.SignedAmount)
		if !running.Equal(entry.RunningBalance) {
			if err := tx.UpdateRunningBalance(ctx, entry.ID, running); err != nil {
				return decimal.Zero, err
			}
		}
	}

	if err := tx.SetSupplierBalance(ctx, supplierID, running); err != nil {
		return decimal.Zero, err
	}
	return running, nil
}
