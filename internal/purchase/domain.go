package purchase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumina-pos/lumina-pos/internal/ledger"
)

// PurchaseOrder is the debt line backing a supplier ledger entry: the
// obligation the business incurred when goods were received on credit.
// PaidAmount and PaymentStatus are maintained by the ledger's debt-line
// synchronizer; everything else is owned here.
type PurchaseOrder struct {
	ID            int64                `json:"id"`
	SupplierID    int64                `json:"supplier_id"`
	Number        string               `json:"number"`
	Total         decimal.Decimal      `json:"total"`
	PaidAmount    decimal.Decimal      `json:"paid_amount"`
	PaymentStatus ledger.PaymentStatus `json:"payment_status"`
	Note          string               `json:"note,omitempty"`
	CreatedBy     int64                `json:"created_by"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// CreatePurchaseOrderInput for recording a credit purchase.
type CreatePurchaseOrderInput struct {
	SupplierID int64
	Number     string
	Total      decimal.Decimal
	Note       string
	CreatedBy  int64
}
