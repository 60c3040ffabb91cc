package purchase

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lumina-pos/lumina-pos/internal/ledger"
)

// ErrNotFound indicates the purchase order does not exist.
var ErrNotFound = errors.New("purchase: not found")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const poColumns = `id, supplier_id, number, total::text, paid_amount::text, payment_status, note, created_by, created_at, updated_at`

// Create inserts a purchase order with nothing paid yet.
func (r *Repository) Create(ctx context.Context, input CreatePurchaseOrderInput) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO purchase_orders (supplier_id, number, total, paid_amount, payment_status, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, 0, 'UNPAID', $4, $5, now(), now())
RETURNING `+poColumns, input.SupplierID, input.Number, input.Total.String(), input.Note, input.CreatedBy)
	return scanPurchaseOrder(row)
}

// Get returns one purchase order by id.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id)
	return scanPurchaseOrder(row)
}

// ListBySupplier returns a supplier's purchase orders, newest first.
func (r *Repository) ListBySupplier(ctx context.Context, supplierID int64) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE supplier_id = $1 ORDER BY created_at DESC, id DESC`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// DebtLineUpdater adapts purchase orders to the ledger's debt-line port,
// scoped to the ledger's transaction. Only the paid amount and payment
// status are ever written through it.
func DebtLineUpdater(tx pgx.Tx) ledger.DebtLineUpdater {
	return &debtLineTx{tx: tx}
}

type debtLineTx struct {
	tx pgx.Tx
}

func (d *debtLineTx) GetDebtLine(ctx context.Context, id int64) (ledger.DebtLine, error) {
	var total, paid, status string
	err := d.tx.QueryRow(ctx, `SELECT total::text, paid_amount::text, payment_status FROM purchase_orders WHERE id = $1 FOR UPDATE`, id).
		Scan(&total, &paid, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.DebtLine{}, ErrNotFound
		}
		return ledger.DebtLine{}, err
	}
	line := ledger.DebtLine{ID: id, Status: ledger.PaymentStatus(status)}
	if line.Total, err = decimal.NewFromString(total); err != nil {
		return ledger.DebtLine{}, err
	}
	if line.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return ledger.DebtLine{}, err
	}
	return line, nil
}

func (d *debtLineTx) UpdateDebtLine(ctx context.Context, id int64, paidAmount decimal.Decimal, status ledger.PaymentStatus) error {
	tag, err := d.tx.Exec(ctx, `UPDATE purchase_orders SET paid_amount = $2, payment_status = $3, updated_at = now() WHERE id = $1`,
		id, paidAmount.String(), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchaseOrder(row rowScanner) (PurchaseOrder, error) {
	var po PurchaseOrder
	var total, paid, status string
	err := row.Scan(&po.ID, &po.SupplierID, &po.Number, &total, &paid, &status, &po.Note, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.PaymentStatus = ledger.PaymentStatus(status)
	if po.Total, err = decimal.NewFromString(total); err != nil {
		return PurchaseOrder{}, err
	}
	if po.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}
