package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocation is one planned split of a payment against a debt entry.
type Allocation struct {
	EntryID         int64
	DebtReferenceID *int64
	Amount          decimal.Decimal
	NewPaidAmount   decimal.Decimal
	NewStatus       PaymentStatus
}

// AllocationResult is the full plan for a payment amount.
type AllocationResult struct {
	Allocations    []Allocation
	TotalAllocated decimal.Decimal
}

// AllocateFIFO splits a payment amount across outstanding debt entries,
// oldest first. Entries sharing a created-at timestamp are ordered by id,
// lower id first. The amount must already have been checked against the
// supplier's outstanding balance; exhausting the list with a remainder left
// is reported as ErrAllocation.
func AllocateFIFO(amount decimal.Decimal, outstanding []LedgerEntry) (AllocationResult, error) {
	if !amount.IsPositive() {
		return AllocationResult{}, ErrValidation
	}

	entries := make([]LedgerEntry, len(outstanding))
	copy(entries, outstanding)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	remaining := amount
	result := AllocationResult{TotalAllocated: decimal.Zero}
	for _, entry := range entries {
		if remaining.IsZero() {
			break
		}
		owed := entry.Owed()
		if !owed.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, owed)
		newPaid := entry.PaidAmount.Add(take)
		result.Allocations = append(result.Allocations, Allocation{
			EntryID:         entry.ID,
			DebtReferenceID: entry.DebtReferenceID,
			Amount:          take,
			NewPaidAmount:   newPaid,
			NewStatus:       DeriveStatus(newPaid, entry.SignedAmount.Abs()),
		})
		result.TotalAllocated = result.TotalAllocated.Add(take)
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return AllocationResult{}, ErrAllocation
	}
	return result, nil
}
