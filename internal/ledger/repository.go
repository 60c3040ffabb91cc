package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lumina-pos/lumina-pos/internal/platform/db"
	"github.com/lumina-pos/lumina-pos/internal/shared"
)

// Repository defines ledger data access outside a transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetEntry(ctx context.Context, id int64) (LedgerEntry, error)
	GetSupplierBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error)
	ListHistory(ctx context.Context, supplierID int64, limit int) ([]LedgerEntry, error)
	ListEntries(ctx context.Context, supplierID int64) ([]LedgerEntry, error)
	ListOutstanding(ctx context.Context, supplierID int64) ([]LedgerEntry, error)
	ListAllocationsForPayment(ctx context.Context, paymentEntryID int64) ([]AllocationRecord, error)
	SupplierBalances(ctx context.Context) ([]SupplierBalance, error)
}

// TxRepository defines operations within a transaction. Every mutating
// sequence starts by locking the supplier's balance row, which both checks
// creditor existence and serializes concurrent payments per supplier.
type TxRepository interface {
	LockSupplierBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error)

	InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	GetEntry(ctx context.Context, id int64) (LedgerEntry, error)
	ListEntries(ctx context.Context, supplierID int64) ([]LedgerEntry, error)
	ListOutstanding(ctx context.Context, supplierID int64) ([]LedgerEntry, error)
	ListAllocationsForPayment(ctx context.Context, paymentEntryID int64) ([]AllocationRecord, error)
	ListAllocationsForDebt(ctx context.Context, debtEntryID int64) ([]AllocationRecord, error)

	InsertAllocation(ctx context.Context, rec AllocationRecord) (AllocationRecord, error)
	UpdateEntryAllocation(ctx context.Context, entryID int64, paidAmount decimal.Decimal, status PaymentStatus) error
	UpdateRunningBalance(ctx context.Context, entryID int64, balance decimal.Decimal) error
	SetSupplierBalance(ctx context.Context, supplierID int64, balance decimal.Decimal) error
	DeleteEntry(ctx context.Context, entryID int64) error

	ClaimIdempotencyKey(ctx context.Context, key string) error

	DebtLines() DebtLineUpdater
}

// SupplierBalance pairs the cached aggregate with the recomputed sum for
// integrity scans.
type SupplierBalance struct {
	SupplierID int64
	Cached     decimal.Decimal
	Computed   decimal.Decimal
}

// DebtLineUpdaterFactory builds the per-transaction debt-line port. The
// owning subsystem of the debt lines supplies it so the ledger never sees
// their full schema.
type DebtLineUpdaterFactory func(tx pgx.Tx) DebtLineUpdater

// Ensure implementation
var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool      *pgxpool.Pool
	debtLines DebtLineUpdaterFactory
}

// NewRepository constructs the PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool, debtLines DebtLineUpdaterFactory) Repository {
	return &pgRepository{pool: pool, debtLines: debtLines}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, debtLines: r.debtLines})
	})
}

const entryColumns = `id, supplier_id, debt_reference_id, kind, signed_amount::text, running_balance::text, paid_amount::text, payment_status, number, description, created_by, created_at`

func (r *pgRepository) GetEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (r *pgRepository) GetSupplierBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT outstanding_balance::text FROM suppliers WHERE id = $1`, supplierID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (r *pgRepository) ListHistory(ctx context.Context, supplierID int64, limit int) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE supplier_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, supplierID, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *pgRepository) ListEntries(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE supplier_id = $1 ORDER BY created_at, id`, supplierID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *pgRepository) ListOutstanding(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, outstandingQuery, supplierID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *pgRepository) ListAllocationsForPayment(ctx context.Context, paymentEntryID int64) ([]AllocationRecord, error) {
	rows, err := r.pool.Query(ctx, allocationsForPaymentQuery, paymentEntryID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

// SupplierBalances recomputes every supplier's ledger sum next to the
// cached aggregate. Used by the integrity scan.
func (r *pgRepository) SupplierBalances(ctx context.Context) ([]SupplierBalance, error) {
	rows, err := r.pool.Query(ctx, `
SELECT s.id, s.outstanding_balance::text, COALESCE(SUM(e.signed_amount), 0)::text
FROM suppliers s
LEFT JOIN ledger_entries e ON e.supplier_id = s.id
GROUP BY s.id, s.outstanding_balance
ORDER BY s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []SupplierBalance
	for rows.Next() {
		var b SupplierBalance
		var cached, computed string
		if err := rows.Scan(&b.SupplierID, &cached, &computed); err != nil {
			return nil, err
		}
		if b.Cached, err = decimal.NewFromString(cached); err != nil {
			return nil, err
		}
		if b.Computed, err = decimal.NewFromString(computed); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

const outstandingQuery = `SELECT ` + entryColumns + `
FROM ledger_entries
WHERE supplier_id = $1
  AND kind IN ('DEBT_INCREASE', 'MANUAL_ADJUSTMENT')
  AND payment_status IN ('UNPAID', 'PARTIAL')
ORDER BY created_at, id`

const allocationsForPaymentQuery = `SELECT id, payment_entry_id, debt_entry_id, amount::text, created_at
FROM allocation_records WHERE payment_entry_id = $1 ORDER BY id`

const allocationsForDebtQuery = `SELECT id, payment_entry_id, debt_entry_id, amount::text, created_at
FROM allocation_records WHERE debt_entry_id = $1 ORDER BY id`

// Transaction repository implementation.

type pgTxRepository struct {
	tx        pgx.Tx
	debtLines DebtLineUpdaterFactory
}

func (r *pgTxRepository) LockSupplierBalance(ctx context.Context, supplierID int64) (decimal.Decimal, error) {
	var raw string
	err := r.tx.QueryRow(ctx, `SELECT outstanding_balance::text FROM suppliers WHERE id = $1 FOR UPDATE`, supplierID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (r *pgTxRepository) InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var status *string
	if entry.Status != "" {
		s := string(entry.Status)
		status = &s
	}
	err := r.tx.QueryRow(ctx, `
INSERT INTO ledger_entries (supplier_id, debt_reference_id, kind, signed_amount, running_balance, paid_amount, payment_status, number, description, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at`,
		entry.SupplierID, entry.DebtReferenceID, string(entry.Kind),
		entry.SignedAmount.String(), entry.RunningBalance.String(), entry.PaidAmount.String(),
		status, entry.Number, entry.Description, entry.CreatedBy, createdAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

func (r *pgTxRepository) GetEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id)
	return scanEntry(row)
}

func (r *pgTxRepository) ListEntries(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE supplier_id = $1 ORDER BY created_at, id`, supplierID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *pgTxRepository) ListOutstanding(ctx context.Context, supplierID int64) ([]LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, outstandingQuery, supplierID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *pgTxRepository) ListAllocationsForPayment(ctx context.Context, paymentEntryID int64) ([]AllocationRecord, error) {
	rows, err := r.tx.Query(ctx, allocationsForPaymentQuery, paymentEntryID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

func (r *pgTxRepository) ListAllocationsForDebt(ctx context.Context, debtEntryID int64) ([]AllocationRecord, error) {
	rows, err := r.tx.Query(ctx, allocationsForDebtQuery, debtEntryID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

func (r *pgTxRepository) InsertAllocation(ctx context.Context, rec AllocationRecord) (AllocationRecord, error) {
	err := r.tx.QueryRow(ctx, `
INSERT INTO allocation_records (payment_entry_id, debt_entry_id, amount, created_at)
VALUES ($1, $2, $3, now())
RETURNING id, created_at`,
		rec.PaymentEntryID, rec.DebtEntryID, rec.Amount.String(),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return AllocationRecord{}, err
	}
	return rec, nil
}

func (r *pgTxRepository) UpdateEntryAllocation(ctx context.Context, entryID int64, paidAmount decimal.Decimal, status PaymentStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_entries SET paid_amount = $2, payment_status = $3 WHERE id = $1`,
		entryID, paidAmount.String(), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgTxRepository) UpdateRunningBalance(ctx context.Context, entryID int64, balance decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE ledger_entries SET running_balance = $2 WHERE id = $1`, entryID, balance.String())
	return err
}

func (r *pgTxRepository) SetSupplierBalance(ctx context.Context, supplierID int64, balance decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE suppliers SET outstanding_balance = $2, updated_at = now() WHERE id = $1`,
		supplierID, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgTxRepository) DeleteEntry(ctx context.Context, entryID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgTxRepository) ClaimIdempotencyKey(ctx context.Context, key string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, "ledger")
}

func (r *pgTxRepository) DebtLines() DebtLineUpdater {
	if r.debtLines == nil {
		return nil
	}
	return r.debtLines(r.tx)
}

// Scan helpers.

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (LedgerEntry, error) {
	var e LedgerEntry
	var signed, running, paid string
	var status *string
	err := row.Scan(&e.ID, &e.SupplierID, &e.DebtReferenceID, (*string)(&e.Kind),
		&signed, &running, &paid, &status, &e.Number, &e.Description, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerEntry{}, ErrNotFound
		}
		return LedgerEntry{}, err
	}
	if e.SignedAmount, err = decimal.NewFromString(signed); err != nil {
		return LedgerEntry{}, err
	}
	if e.RunningBalance, err = decimal.NewFromString(running); err != nil {
		return LedgerEntry{}, err
	}
	if e.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return LedgerEntry{}, err
	}
	if status != nil {
		e.Status = PaymentStatus(*status)
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func collectAllocations(rows pgx.Rows) ([]AllocationRecord, error) {
	defer rows.Close()
	var records []AllocationRecord
	for rows.Next() {
		var rec AllocationRecord
		var amount string
		if err := rows.Scan(&rec.ID, &rec.PaymentEntryID, &rec.DebtEntryID, &amount, &rec.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
