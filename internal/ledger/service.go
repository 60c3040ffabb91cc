package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Metrics receives ledger-specific counters. Implemented in the
// observability package; a nil value disables instrumentation.
type Metrics interface {
	PaymentRecorded()
	AllocationDesync()
	ReconciliationRun()
}

// Service implements the supplier credit ledger: append, FIFO payment
// allocation, reconciliation and debt-line synchronization. Every mutating
// sequence runs in one transaction serialized per supplier by a row lock
// on the cached balance.
type Service struct {
	repo    Repository
	cache   BalanceCache
	metrics Metrics
	logger  *slog.Logger
	reads   singleflight.Group
}

// NewService constructs the ledger service. Cache and metrics are optional.
func NewService(repo Repository, cache BalanceCache, metrics Metrics, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, metrics: metrics, logger: logger}
}

// AppendInput describes a new ledger entry. CreatedAt is zero except for
// backdated imports, which trigger a full reconciliation after insert.
type AppendInput struct {
	SupplierID      int64
	Kind            EntryKind
	Amount          decimal.Decimal
	DebtReferenceID *int64
	Description     string
	CreatedBy       int64
	CreatedAt       time.Time
}

// PaymentInput describes a payment to allocate across outstanding debts.
type PaymentInput struct {
	SupplierID     int64
	Amount         decimal.Decimal
	Method         string
	Note           string
	IdempotencyKey string
	CreatedBy      int64
}

// PaymentResult is the outcome of a fully-allocated payment.
type PaymentResult struct {
	Payment     LedgerEntry
	Allocations []AllocationRecord
	NewBalance  decimal.Decimal
}

// BalanceDrift reports a supplier whose cached aggregate disagrees with
// the recomputed ledger sum.
type BalanceDrift struct {
	SupplierID int64
	Cached     decimal.Decimal
	Computed   decimal.Decimal
}

// RecordManualEntry appends a manual ledger entry without allocation. The
// sign convention is enforced here regardless of the caller's sign.
func (s *Service) RecordManualEntry(ctx context.Context, input AppendInput) (LedgerEntry, error) {
	return s.append(ctx, input)
}

func (s *Service) append(ctx context.Context, input AppendInput) (LedgerEntry, error) {
	signed, err := NormalizeAmount(input.Kind, input.Amount)
	if err != nil {
		return LedgerEntry{}, err
	}

	entry := LedgerEntry{
		SupplierID:      input.SupplierID,
		DebtReferenceID: input.DebtReferenceID,
		Kind:            input.Kind,
		SignedAmount:    signed,
		PaidAmount:      decimal.Zero,
		Number:          entryNumber(input.Kind),
		Description:     input.Description,
		CreatedBy:       input.CreatedBy,
		CreatedAt:       input.CreatedAt,
	}
	if entry.IsDebt() {
		entry.Status = StatusUnpaid
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.LockSupplierBalance(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		backdated := !input.CreatedAt.IsZero()
		if !backdated {
			entry.RunningBalance = balance.Add(signed)
		}
		if entry, err = tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if backdated {
			// The entry landed mid-ledger; recompute every prefix sum.
			if _, err := reconcile(ctx, tx, input.SupplierID); err != nil {
				return err
			}
			refreshed, err := tx.GetEntry(ctx, entry.ID)
			if err != nil {
				return err
			}
			entry = refreshed
			return nil
		}
		return tx.SetSupplierBalance(ctx, input.SupplierID, entry.RunningBalance)
	})
	if err != nil {
		return LedgerEntry{}, err
	}

	s.invalidate(ctx, input.SupplierID)
	return entry, nil
}

// RecordPayment allocates a payment across outstanding debts oldest-first,
// appends the payment entry, persists the allocation records, and pushes
// each allocation into its originating debt line, all in one transaction.
// Partial payments are allowed; overpayments are rejected.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (PaymentResult, error) {
	if !input.Amount.IsPositive() {
		return PaymentResult{}, ErrValidation
	}

	var result PaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, input.IdempotencyKey); err != nil {
				return err
			}
		}

		balance, err := tx.LockSupplierBalance(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		if !balance.IsPositive() || input.Amount.GreaterThan(balance) {
			return &ExcessPaymentError{Amount: input.Amount, Balance: balance}
		}

		outstanding, err := tx.ListOutstanding(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		plan, err := AllocateFIFO(input.Amount, outstanding)
		if err != nil {
			return err
		}

		payment := LedgerEntry{
			SupplierID:     input.SupplierID,
			Kind:           KindPayment,
			SignedAmount:   input.Amount.Neg(),
			RunningBalance: balance.Sub(input.Amount),
			PaidAmount:     decimal.Zero,
			Number:         entryNumber(KindPayment),
			Description:    paymentDescription(input),
			CreatedBy:      input.CreatedBy,
		}
		if payment, err = tx.InsertEntry(ctx, payment); err != nil {
			return err
		}

		lines := tx.DebtLines()
		records := make([]AllocationRecord, 0, len(plan.Allocations))
		for _, alloc := range plan.Allocations {
			if err := tx.UpdateEntryAllocation(ctx, alloc.EntryID, alloc.NewPaidAmount, alloc.NewStatus); err != nil {
				return err
			}
			rec, err := tx.InsertAllocation(ctx, AllocationRecord{
				PaymentEntryID: payment.ID,
				DebtEntryID:    alloc.EntryID,
				Amount:         alloc.Amount,
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
			if alloc.DebtReferenceID != nil {
				if err := applyDebtLineAllocation(ctx, lines, *alloc.DebtReferenceID, alloc.Amount); err != nil {
					return err
				}
			}
		}

		if err := tx.SetSupplierBalance(ctx, input.SupplierID, payment.RunningBalance); err != nil {
			return err
		}
		result = PaymentResult{Payment: payment, Allocations: records, NewBalance: payment.RunningBalance}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAllocation) {
			s.alertDesync(input.SupplierID, err)
		}
		return PaymentResult{}, err
	}

	if s.metrics != nil {
		s.metrics.PaymentRecorded()
	}
	s.invalidate(ctx, input.SupplierID)
	return result, nil
}

// DeleteEntry removes one entry and repairs the ledger. Deleting a payment
// reverses every allocation it made, on the debt entries and on their debt
// lines; allocation records cascade with their parent payment. A debt entry
// that payments have allocated against cannot be deleted while those
// records exist, or the surviving payments would lose allocation coverage.
func (s *Service) DeleteEntry(ctx context.Context, entryID int64) error {
	var supplierID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		supplierID = entry.SupplierID
		if _, err := tx.LockSupplierBalance(ctx, entry.SupplierID); err != nil {
			return err
		}

		if entry.IsDebt() {
			refs, err := tx.ListAllocationsForDebt(ctx, entry.ID)
			if err != nil {
				return err
			}
			if len(refs) > 0 {
				return fmt.Errorf("%w: delete the allocating payment entries first", ErrEntryAllocated)
			}
		}

		if entry.Kind == KindPayment {
			allocations, err := tx.ListAllocationsForPayment(ctx, entry.ID)
			if err != nil {
				return err
			}
			lines := tx.DebtLines()
			for _, alloc := range allocations {
				debt, err := tx.GetEntry(ctx, alloc.DebtEntryID)
				if err != nil {
					return err
				}
				paid := debt.PaidAmount.Sub(alloc.Amount)
				if paid.IsNegative() {
					paid = decimal.Zero
				}
				if err := tx.UpdateEntryAllocation(ctx, debt.ID, paid, DeriveStatus(paid, debt.SignedAmount.Abs())); err != nil {
					return err
				}
				if debt.DebtReferenceID != nil {
					if err := reverseDebtLineAllocation(ctx, lines, *debt.DebtReferenceID, alloc.Amount); err != nil {
						return err
					}
				}
			}
		}

		if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
			return err
		}
		_, err = reconcile(ctx, tx, entry.SupplierID)
		return err
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ReconciliationRun()
	}
	s.invalidate(ctx, supplierID)
	return nil
}

// RecalculateBalance is the standalone repair operation: recompute every
// running balance and the cached aggregate for the supplier. Idempotent.
func (s *Service) RecalculateBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockSupplierBalance(ctx, supplierID); err != nil {
			return err
		}
		var err error
		balance, err = reconcile(ctx, tx, supplierID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	if s.metrics != nil {
		s.metrics.ReconciliationRun()
	}
	s.invalidate(ctx, supplierID)
	return balance, nil
}

// GetBalance returns the supplier's outstanding balance, serving from the
// cache when possible and collapsing concurrent misses per supplier.
func (s *Service) GetBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error) {
	if s.cache != nil {
		if balance, ok := s.cache.Get(ctx, supplierID); ok {
			return balance, nil
		}
	}

	value, err, _ := s.reads.Do(strconv.FormatInt(supplierID, 10), func() (any, error) {
		balance, err := s.repo.GetSupplierBalance(ctx, supplierID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(ctx, supplierID, balance)
		}
		return balance, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return value.(decimal.Decimal), nil
}

// ListHistory returns the supplier's entries newest first, for display.
func (s *Service) ListHistory(ctx context.Context, supplierID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if _, err := s.repo.GetSupplierBalance(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, supplierID, limit)
}

// ListOutstanding returns unpaid and partially-paid debt entries oldest
// first, the order the allocator consumes them in.
func (s *Service) ListOutstanding(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	if _, err := s.repo.GetSupplierBalance(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.repo.ListOutstanding(ctx, supplierID)
}

// VerifyBalances scans all suppliers for drift between the cached
// aggregate and the recomputed ledger sum. Run by the integrity job.
func (s *Service) VerifyBalances(ctx context.Context) ([]BalanceDrift, error) {
	balances, err := s.repo.SupplierBalances(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []BalanceDrift
	for _, b := range balances {
		if !b.Cached.Equal(b.Computed) {
			drifts = append(drifts, BalanceDrift{SupplierID: b.SupplierID, Cached: b.Cached, Computed: b.Computed})
			s.alertDesync(b.SupplierID, fmt.Errorf("cached %s, computed %s", b.Cached, b.Computed))
		}
	}
	return drifts, nil
}

func (s *Service) alertDesync(supplierID int64, err error) {
	if s.metrics != nil {
		s.metrics.AllocationDesync()
	}
	s.logger.Error("ledger balance desync detected",
		slog.Int64("supplier_id", supplierID),
		slog.Any("error", err))
}

func (s *Service) invalidate(ctx context.Context, supplierID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, supplierID)
	}
}

func entryNumber(kind EntryKind) string {
	prefix := "LE"
	if kind == KindPayment {
		prefix = "PAY"
	}
	return prefix + "-" + uuid.New().String()[:8]
}

func paymentDescription(input PaymentInput) string {
	switch {
	case input.Method != "" && input.Note != "":
		return input.Method + ": " + input.Note
	case input.Method != "":
		return input.Method
	default:
		return input.Note
	}
}
