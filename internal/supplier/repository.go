package supplier

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the supplier does not exist.
var ErrNotFound = errors.New("supplier: not found")

// ErrDuplicateCode indicates the supplier code is already taken.
var ErrDuplicateCode = errors.New("supplier: code already exists")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const supplierColumns = `id, code, name, phone, address, outstanding_balance::text, created_at, updated_at`

// Create registers a new supplier with a zero outstanding balance.
func (r *Repository) Create(ctx context.Context, input CreateSupplierInput) (Supplier, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO suppliers (code, name, phone, address, outstanding_balance, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, now(), now())
RETURNING `+supplierColumns, input.Code, input.Name, input.Phone, input.Address)
	s, err := scanSupplier(row)
	if err != nil && isUniqueViolation(err) {
		return Supplier{}, ErrDuplicateCode
	}
	return s, err
}

// Get returns one supplier by id.
func (r *Repository) Get(ctx context.Context, id int64) (Supplier, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id)
	return scanSupplier(row)
}

// Exists reports whether the supplier id is known.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, id).Scan(&found)
	return found, err
}

// List returns suppliers ordered by name with offset pagination.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Supplier, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var suppliers []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSupplier(row rowScanner) (Supplier, error) {
	var s Supplier
	var balance string
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Phone, &s.Address, &balance, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrNotFound
		}
		return Supplier{}, err
	}
	if s.OutstandingBalance, err = decimal.NewFromString(balance); err != nil {
		return Supplier{}, err
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
