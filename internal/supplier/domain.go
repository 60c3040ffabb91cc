package supplier

import (
	"time"

	"github.com/shopspring/decimal"
)

// Supplier is a creditor: the party the business owes money to. The
// outstanding balance column is a materialized view over the supplier's
// ledger, maintained transactionally by the ledger subsystem.
type Supplier struct {
	ID                 int64           `json:"id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	Phone              string          `json:"phone,omitempty"`
	Address            string          `json:"address,omitempty"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CreateSupplierInput for registering a new supplier.
type CreateSupplierInput struct {
	Code    string
	Name    string
	Phone   string
	Address string
}
