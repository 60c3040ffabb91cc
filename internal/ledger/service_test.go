package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lumina-pos/lumina-pos/internal/shared"
)

// memoryLedgerRepo emulates the PostgreSQL repository. The mutex is held
// for the whole transaction callback, which mirrors the row-lock
// serialization of concurrent payments per supplier.
type memoryLedgerRepo struct {
	mu        sync.Mutex
	balances  map[int64]decimal.Decimal
	entries   map[int64]LedgerEntry
	allocs    map[int64][]AllocationRecord
	idemKeys  map[string]bool
	lines     *memoryDebtLines
	nextEntry int64
	nextAlloc int64
}

type memoryLedgerTx struct {
	repo *memoryLedgerRepo
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		balances: make(map[int64]decimal.Decimal),
		entries:  make(map[int64]LedgerEntry),
		allocs:   make(map[int64][]AllocationRecord),
		idemKeys: make(map[string]bool),
		lines:    &memoryDebtLines{lines: make(map[int64]DebtLine)},
	}
}

type repoSnapshot struct {
	balances map[int64]decimal.Decimal
	entries  map[int64]LedgerEntry
	allocs   map[int64][]AllocationRecord
	idemKeys map[string]bool
	lines    map[int64]DebtLine
}

func (r *memoryLedgerRepo) snapshot() repoSnapshot {
	s := repoSnapshot{
		balances: make(map[int64]decimal.Decimal, len(r.balances)),
		entries:  make(map[int64]LedgerEntry, len(r.entries)),
		allocs:   make(map[int64][]AllocationRecord, len(r.allocs)),
		idemKeys: make(map[string]bool, len(r.idemKeys)),
		lines:    make(map[int64]DebtLine, len(r.lines.lines)),
	}
	for k, v := range r.balances {
		s.balances[k] = v
	}
	for k, v := range r.entries {
		s.entries[k] = v
	}
	for k, v := range r.allocs {
		s.allocs[k] = append([]AllocationRecord(nil), v...)
	}
	for k, v := range r.idemKeys {
		s.idemKeys[k] = v
	}
	for k, v := range r.lines.lines {
		s.lines[k] = v
	}
	return s
}

func (r *memoryLedgerRepo) restore(s repoSnapshot) {
	r.balances = s.balances
	r.entries = s.entries
	r.allocs = s.allocs
	r.idemKeys = s.idemKeys
	r.lines.lines = s.lines
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, &memoryLedgerTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) sortedEntries(supplierID int64) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range r.entries {
		if e.SupplierID == supplierID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *memoryLedgerRepo) getEntry(id int64) (LedgerEntry, error) {
	e, ok := r.entries[id]
	if !ok {
		return LedgerEntry{}, ErrNotFound
	}
	return e, nil
}

func (r *memoryLedgerRepo) GetEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getEntry(id)
}

func (r *memoryLedgerRepo) GetSupplierBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[supplierID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return balance, nil
}

func (r *memoryLedgerRepo) ListHistory(ctx context.Context, supplierID int64, limit int) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sortedEntries(supplierID)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *memoryLedgerRepo) ListEntries(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedEntries(supplierID), nil
}

func (r *memoryLedgerRepo) listOutstanding(supplierID int64) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range r.sortedEntries(supplierID) {
		if e.IsDebt() && (e.Status == StatusUnpaid || e.Status == StatusPartial) {
			out = append(out, e)
		}
	}
	return out
}

func (r *memoryLedgerRepo) ListOutstanding(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listOutstanding(supplierID), nil
}

func (r *memoryLedgerRepo) ListAllocationsForPayment(ctx context.Context, paymentEntryID int64) ([]AllocationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AllocationRecord(nil), r.allocs[paymentEntryID]...), nil
}

func (r *memoryLedgerRepo) SupplierBalances(ctx context.Context) ([]SupplierBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SupplierBalance
	for supplierID, cached := range r.balances {
		computed := decimal.Zero
		for _, e := range r.entries {
			if e.SupplierID == supplierID {
				computed = computed.Add(e.SignedAmount)
			}
		}
		out = append(out, SupplierBalance{SupplierID: supplierID, Cached: cached, Computed: computed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierID < out[j].SupplierID })
	return out, nil
}

func (tx *memoryLedgerTx) LockSupplierBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error) {
	balance, ok := tx.repo.balances[supplierID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return balance, nil
}

func (tx *memoryLedgerTx) InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	tx.repo.nextEntry++
	entry.ID = tx.repo.nextEntry
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	tx.repo.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryLedgerTx) GetEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	return tx.repo.getEntry(id)
}

func (tx *memoryLedgerTx) ListEntries(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	return tx.repo.sortedEntries(supplierID), nil
}

func (tx *memoryLedgerTx) ListOutstanding(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	return tx.repo.listOutstanding(supplierID), nil
}

func (tx *memoryLedgerTx) ListAllocationsForPayment(ctx context.Context, paymentEntryID int64) ([]AllocationRecord, error) {
	return append([]AllocationRecord(nil), tx.repo.allocs[paymentEntryID]...), nil
}

func (tx *memoryLedgerTx) ListAllocationsForDebt(ctx context.Context, debtEntryID int64) ([]AllocationRecord, error) {
	var out []AllocationRecord
	for _, records := range tx.repo.allocs {
		for _, rec := range records {
			if rec.DebtEntryID == debtEntryID {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryLedgerTx) InsertAllocation(ctx context.Context, rec AllocationRecord) (AllocationRecord, error) {
	tx.repo.nextAlloc++
	rec.ID = tx.repo.nextAlloc
	rec.CreatedAt = time.Now()
	tx.repo.allocs[rec.PaymentEntryID] = append(tx.repo.allocs[rec.PaymentEntryID], rec)
	return rec, nil
}

func (tx *memoryLedgerTx) UpdateEntryAllocation(ctx context.Context, entryID int64, paidAmount decimal.Decimal, status PaymentStatus) error {
	entry, ok := tx.repo.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	entry.PaidAmount = paidAmount
	entry.Status = status
	tx.repo.entries[entryID] = entry
	return nil
}

func (tx *memoryLedgerTx) UpdateRunningBalance(ctx context.Context, entryID int64, balance decimal.Decimal) error {
	entry, ok := tx.repo.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	entry.RunningBalance = balance
	tx.repo.entries[entryID] = entry
	return nil
}

func (tx *memoryLedgerTx) SetSupplierBalance(ctx context.Context, supplierID int64, balance decimal.Decimal) error {
	if _, ok := tx.repo.balances[supplierID]; !ok {
		return ErrNotFound
	}
	tx.repo.balances[supplierID] = balance
	return nil
}

func (tx *memoryLedgerTx) DeleteEntry(ctx context.Context, entryID int64) error {
	if _, ok := tx.repo.entries[entryID]; !ok {
		return ErrNotFound
	}
	// Mirrors the schema: payment-side records cascade, debt-side
	// references restrict the delete.
	for paymentID, records := range tx.repo.allocs {
		if paymentID == entryID {
			continue
		}
		for _, rec := range records {
			if rec.DebtEntryID == entryID {
				return errors.New("allocation_records restricts delete")
			}
		}
	}
	delete(tx.repo.entries, entryID)
	delete(tx.repo.allocs, entryID)
	return nil
}

func (tx *memoryLedgerTx) ClaimIdempotencyKey(ctx context.Context, key string) error {
	if tx.repo.idemKeys[key] {
		return shared.ErrIdempotencyConflict
	}
	tx.repo.idemKeys[key] = true
	return nil
}

func (tx *memoryLedgerTx) DebtLines() DebtLineUpdater {
	return tx.repo.lines
}

type memoryDebtLines struct {
	lines map[int64]DebtLine
}

func (m *memoryDebtLines) GetDebtLine(ctx context.Context, id int64) (DebtLine, error) {
	line, ok := m.lines[id]
	if !ok {
		return DebtLine{}, ErrNotFound
	}
	return line, nil
}

func (m *memoryDebtLines) UpdateDebtLine(ctx context.Context, id int64, paidAmount decimal.Decimal, status PaymentStatus) error {
	line, ok := m.lines[id]
	if !ok {
		return ErrNotFound
	}
	line.PaidAmount = paidAmount
	line.Status = status
	m.lines[id] = line
	return nil
}

type countingMetrics struct {
	mu              sync.Mutex
	payments        int
	desyncs         int
	reconciliations int
}

func (m *countingMetrics) PaymentRecorded() {
	m.mu.Lock()
	m.payments++
	m.mu.Unlock()
}

func (m *countingMetrics) AllocationDesync() {
	m.mu.Lock()
	m.desyncs++
	m.mu.Unlock()
}

func (m *countingMetrics) ReconciliationRun() {
	m.mu.Lock()
	m.reconciliations++
	m.mu.Unlock()
}

type mapCache struct {
	mu     sync.Mutex
	values map[int64]decimal.Decimal
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[int64]decimal.Decimal)}
}

func (c *mapCache) Get(ctx context.Context, supplierID int64) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, ok := c.values[supplierID]
	return balance, ok
}

func (c *mapCache) Set(ctx context.Context, supplierID int64, balance decimal.Decimal) {
	c.mu.Lock()
	c.values[supplierID] = balance
	c.mu.Unlock()
}

func (c *mapCache) Invalidate(ctx context.Context, supplierID int64) {
	c.mu.Lock()
	delete(c.values, supplierID)
	c.mu.Unlock()
}

func newTestService(repo *memoryLedgerRepo) (*Service, *countingMetrics) {
	metrics := &countingMetrics{}
	return NewService(repo, nil, metrics, slog.Default()), metrics
}

func seedSupplier(repo *memoryLedgerRepo, supplierID int64) {
	repo.balances[supplierID] = decimal.Zero
}

func mustRecordDebt(t *testing.T, svc *Service, supplierID int64, amount string, debtRef *int64) LedgerEntry {
	t.Helper()
	entry, err := svc.RecordManualEntry(context.Background(), AppendInput{
		SupplierID:      supplierID,
		Kind:            KindDebtIncrease,
		Amount:          decimal.RequireFromString(amount),
		DebtReferenceID: debtRef,
	})
	require.NoError(t, err)
	return entry
}

func TestRecordManualEntryRunningBalance(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)

	first := mustRecordDebt(t, svc, 1, "1000", nil)
	require.True(t, first.SignedAmount.Equal(decimal.RequireFromString("1000")))
	require.True(t, first.RunningBalance.Equal(decimal.RequireFromString("1000")))
	require.Equal(t, StatusUnpaid, first.Status)

	second := mustRecordDebt(t, svc, 1, "500", nil)
	require.True(t, second.RunningBalance.Equal(decimal.RequireFromString("1500")))

	balance, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1500")))
}

func TestRecordManualEntryCoercesPaymentSign(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)
	mustRecordDebt(t, svc, 1, "1000", nil)

	entry, err := svc.RecordManualEntry(context.Background(), AppendInput{
		SupplierID: 1,
		Kind:       KindPayment,
		Amount:     decimal.RequireFromString("500"), // entered positive
	})
	require.NoError(t, err)
	require.True(t, entry.SignedAmount.Equal(decimal.RequireFromString("-500")))
	require.True(t, entry.RunningBalance.Equal(decimal.RequireFromString("500")))
	require.Empty(t, entry.Status)
}

func TestRecordManualEntryUnknownSupplier(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc, _ := newTestService(repo)

	_, err := svc.RecordManualEntry(context.Background(), AppendInput{
		SupplierID: 99,
		Kind:       KindDebtIncrease,
		Amount:     decimal.RequireFromString("100"),
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordManualEntryBackdatedReconciles(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)
	mustRecordDebt(t, svc, 1, "1000", nil)

	backdated, err := svc.RecordManualEntry(context.Background(), AppendInput{
		SupplierID: 1,
		Kind:       KindDebtIncrease,
		Amount:     decimal.RequireFromString("200"),
		CreatedAt:  time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	require.True(t, backdated.RunningBalance.Equal(decimal.RequireFromString("200")))

	entries, err := svc.repo.ListEntries(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, backdated.ID, entries[0].ID)
	require.True(t, entries[1].RunningBalance.Equal(decimal.RequireFromString("1200")))
}

func TestRecordPaymentAllocatesOldestFirst(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	repo.lines.lines[11] = DebtLine{ID: 11, Total: decimal.RequireFromString("1000"), Status: StatusUnpaid}
	repo.lines.lines[12] = DebtLine{ID: 12, Total: decimal.RequireFromString("500"), Status: StatusUnpaid}
	svc, metrics := newTestService(repo)

	ref1, ref2 := int64(11), int64(12)
	older := mustRecordDebt(t, svc, 1, "1000", &ref1)
	newer := mustRecordDebt(t, svc, 1, "500", &ref2)

	result, err := svc.RecordPayment(context.Background(), PaymentInput{
		SupplierID: 1,
		Amount:     decimal.RequireFromString("1200"),
		Method:     "TRANSFER",
	})
	require.NoError(t, err)

	require.True(t, result.Payment.SignedAmount.Equal(decimal.RequireFromString("-1200")))
	require.True(t, result.NewBalance.Equal(decimal.RequireFromString("300")))
	require.Len(t, result.Allocations, 2)
	require.Equal(t, older.ID, result.Allocations[0].DebtEntryID)
	require.True(t, result.Allocations[0].Amount.Equal(decimal.RequireFromString("1000")))
	require.Equal(t, newer.ID, result.Allocations[1].DebtEntryID)
	require.True(t, result.Allocations[1].Amount.Equal(decimal.RequireFromString("200")))

	olderAfter, err := repo.GetEntry(context.Background(), older.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, olderAfter.Status)
	newerAfter, err := repo.GetEntry(context.Background(), newer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, newerAfter.Status)
	require.True(t, newerAfter.PaidAmount.Equal(decimal.RequireFromString("200")))

	require.Equal(t, StatusPaid, repo.lines.lines[11].Status)
	require.True(t, repo.lines.lines[11].PaidAmount.Equal(decimal.RequireFromString("1000")))
	require.Equal(t, StatusPartial, repo.lines.lines[12].Status)
	require.True(t, repo.lines.lines[12].PaidAmount.Equal(decimal.RequireFromString("200")))

	require.Equal(t, 1, metrics.payments)
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)
	mustRecordDebt(t, svc, 1, "1000", nil)
	mustRecordDebt(t, svc, 1, "500", nil)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		SupplierID: 1,
		Amount:     decimal.RequireFromString("1501"),
	})
	var excess *ExcessPaymentError
	require.ErrorAs(t, err, &excess)
	require.True(t, excess.Balance.Equal(decimal.RequireFromString("1500")))

	// Nothing was written.
	balance, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1500")))
	history, err := svc.ListHistory(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRecordPaymentRejectsZeroBalance(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		SupplierID: 1,
		Amount:     decimal.RequireFromString("10"),
	})
	var excess *ExcessPaymentError
	require.ErrorAs(t, err, &excess)
}

func TestRecordPaymentIdempotencyKey(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)
	mustRecordDebt(t, svc, 1, "1000", nil)

	input := PaymentInput{
		SupplierID:     1,
		Amount:         decimal.RequireFromString("400"),
		IdempotencyKey: "pay-once",
	}
	_, err := svc.RecordPayment(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	balance, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("600")))
}

func TestDeleteEntryRebalancesSubsequentEntries(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	repo.lines.lines[11] = DebtLine{ID: 11, Total: decimal.RequireFromString("1000"), Status: StatusUnpaid}
	svc, _ := newTestService(repo)

	ref := int64(11)
	debt := mustRecordDebt(t, svc, 1, "1000", &ref)
	payment, err := svc.RecordPayment(context.Background(), PaymentInput{
		SupplierID: 1,
		Amount:     decimal.RequireFromString("300"),
	})
	require.NoError(t, err)
	mustRecordDebt(t, svc, 1, "200", nil)

	require.NoError(t, svc.DeleteEntry(context.Background(), payment.Payment.ID))

	entries, err := repo.ListEntries(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].RunningBalance.Equal(decimal.RequireFromString("1000")))
	require.True(t, entries[1].RunningBalance.Equal(decimal.RequireFromString("1200")))

	balance, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1200")))

	// The reversed allocation restored the debt entry and its debt line.
	debtAfter, err := repo.GetEntry(context.Background(), debt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusUnpaid, debtAfter.Status)
	require.True(t, debtAfter.PaidAmount.IsZero())
	require.Equal(t, StatusUnpaid, repo.lines.lines[11].Status)
	require.True(t, repo.lines.lines[11].PaidAmount.IsZero())
}

func TestDeleteAllocatedDebtEntryRejected(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	repo.lines.lines[11] = DebtLine{ID: 11, Total: decimal.RequireFromString("1000"), Status: StatusUnpaid}
	svc, _ := newTestService(repo)

	ref := int64(11)
	debt := mustRecordDebt(t, svc, 1, "1000", &ref)
	payment, err := svc.RecordPayment(context.Background(), PaymentInput{
		SupplierID: 1,
		Amount:     decimal.RequireFromString("400"),
	})
	require.NoError(t, err)

	err = svc.DeleteEntry(context.Background(), debt.ID)
	require.ErrorIs(t, err, ErrEntryAllocated)

	// The payment keeps full allocation coverage and the ledger is intact.
	records, err := repo.ListAllocationsForPayment(context.Background(), payment.Payment.ID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, rec := range records {
		sum = sum.Add(rec.Amount)
	}
	require.True(t, sum.Equal(payment.Payment.SignedAmount.Abs()))
	debtAfter, err := repo.GetEntry(context.Background(), debt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, debtAfter.Status)
	balance, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("600")))

	// Once the payment is gone the debt entry is deletable again.
	require.NoError(t, svc.DeleteEntry(context.Background(), payment.Payment.ID))
	require.NoError(t, svc.DeleteEntry(context.Background(), debt.ID))
	balance, err = svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestDeleteMissingEntry(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)

	err := svc.DeleteEntry(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecalculateBalanceIsIdempotent(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, metrics := newTestService(repo)
	first := mustRecordDebt(t, svc, 1, "1000", nil)
	mustRecordDebt(t, svc, 1, "500", nil)

	// Corrupt the materialized values.
	corrupted := repo.entries[first.ID]
	corrupted.RunningBalance = decimal.RequireFromString("999999")
	repo.entries[first.ID] = corrupted
	repo.balances[1] = decimal.RequireFromString("-5")

	balance, err := svc.RecalculateBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1500")))

	again, err := svc.RecalculateBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, again.Equal(balance))

	entries, err := repo.ListEntries(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, entries[0].RunningBalance.Equal(decimal.RequireFromString("1000")))
	require.True(t, entries[1].RunningBalance.Equal(decimal.RequireFromString("1500")))
	require.Equal(t, 2, metrics.reconciliations)
}

func TestConcurrentPaymentsOnlyOneSucceeds(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)
	mustRecordDebt(t, svc, 1, "1000", nil)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			_, err := svc.RecordPayment(context.Background(), PaymentInput{
				SupplierID: 1,
				Amount:     decimal.RequireFromString("1000"),
			})
			errs[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded, rejected int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var excess *ExcessPaymentError
		require.ErrorAs(t, err, &excess)
		rejected++
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)

	balance, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestVerifyBalancesDetectsDrift(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	seedSupplier(repo, 2)
	svc, metrics := newTestService(repo)
	mustRecordDebt(t, svc, 1, "1000", nil)
	mustRecordDebt(t, svc, 2, "500", nil)

	repo.balances[2] = decimal.RequireFromString("444")

	drifts, err := svc.VerifyBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, int64(2), drifts[0].SupplierID)
	require.True(t, drifts[0].Cached.Equal(decimal.RequireFromString("444")))
	require.True(t, drifts[0].Computed.Equal(decimal.RequireFromString("500")))
	require.Equal(t, 1, metrics.desyncs)
}

func TestGetBalanceServesFromCache(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	cache := newMapCache()
	svc := NewService(repo, cache, nil, slog.Default())
	mustRecordDebt(t, svc, 1, "1000", nil)

	balance, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1000")))

	// Mutating the store directly proves the next read is a cache hit.
	repo.balances[1] = decimal.RequireFromString("777")
	cached, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, cached.Equal(decimal.RequireFromString("1000")))

	// Payments invalidate after commit.
	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		SupplierID: 1,
		Amount:     decimal.RequireFromString("400"),
	})
	require.NoError(t, err)
	_, ok := cache.Get(context.Background(), 1)
	require.False(t, ok)
}

func TestListHistoryNewestFirst(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, _ := newTestService(repo)
	mustRecordDebt(t, svc, 1, "100", nil)
	second := mustRecordDebt(t, svc, 1, "200", nil)

	history, err := svc.ListHistory(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, second.ID, history[0].ID)

	_, err = svc.ListHistory(context.Background(), 99, 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordPaymentDesyncAlerts(t *testing.T) {
	repo := newMemoryLedgerRepo()
	seedSupplier(repo, 1)
	svc, metrics := newTestService(repo)
	mustRecordDebt(t, svc, 1, "1000", nil)

	// Force a desync: the cached balance says more is owed than the
	// outstanding entries can absorb.
	repo.balances[1] = decimal.RequireFromString("2000")

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		SupplierID: 1,
		Amount:     decimal.RequireFromString("1500"),
	})
	require.ErrorIs(t, err, ErrAllocation)
	require.Equal(t, 1, metrics.desyncs)
	require.Equal(t, 0, metrics.payments)
}
