package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-pos/lumina-pos/internal/ledger"
	"github.com/lumina-pos/lumina-pos/internal/supplier"
)

// Store is the persistence surface the service needs. Implemented by
// Repository.
type Store interface {
	Create(ctx context.Context, input CreatePurchaseOrderInput) (PurchaseOrder, error)
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	ListBySupplier(ctx context.Context, supplierID int64) ([]PurchaseOrder, error)
}

// CreditorResolver answers whether a supplier exists. Implemented by the
// supplier service.
type CreditorResolver interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// DebtRecorder appends the debt-increase entry for a credit purchase.
// Implemented by the ledger service.
type DebtRecorder interface {
	RecordManualEntry(ctx context.Context, input ledger.AppendInput) (ledger.LedgerEntry, error)
}

// Service records credit purchases and feeds the matching debt-increase
// entries into the supplier ledger.
type Service struct {
	repo      Store
	suppliers CreditorResolver
	ledger    DebtRecorder
}

// NewService constructs the service.
func NewService(repo Store, suppliers CreditorResolver, ledgerSvc DebtRecorder) *Service {
	return &Service{repo: repo, suppliers: suppliers, ledger: ledgerSvc}
}

// Create records a purchase order bought on credit and appends the
// corresponding debt-increase ledger entry referencing it. The purchase
// order commits first; the ledger append is the source of truth for the
// supplier's balance and runs in its own serialized transaction.
func (s *Service) Create(ctx context.Context, input CreatePurchaseOrderInput) (PurchaseOrder, ledger.LedgerEntry, error) {
	if !input.Total.IsPositive() {
		return PurchaseOrder{}, ledger.LedgerEntry{}, fmt.Errorf("purchase: total must be positive: %w", ledger.ErrValidation)
	}
	exists, err := s.suppliers.Exists(ctx, input.SupplierID)
	if err != nil {
		return PurchaseOrder{}, ledger.LedgerEntry{}, err
	}
	if !exists {
		return PurchaseOrder{}, ledger.LedgerEntry{}, supplier.ErrNotFound
	}
	if input.Number == "" {
		input.Number = generatePONumber()
	}

	po, err := s.repo.Create(ctx, input)
	if err != nil {
		return PurchaseOrder{}, ledger.LedgerEntry{}, err
	}

	entry, err := s.ledger.RecordManualEntry(ctx, ledger.AppendInput{
		SupplierID:      po.SupplierID,
		Kind:            ledger.KindDebtIncrease,
		Amount:          po.Total,
		DebtReferenceID: &po.ID,
		Description:     "purchase order " + po.Number,
		CreatedBy:       input.CreatedBy,
	})
	if err != nil {
		return PurchaseOrder{}, ledger.LedgerEntry{}, fmt.Errorf("purchase: ledger append for %s: %w", po.Number, err)
	}
	return po, entry, nil
}

// Get returns one purchase order.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

// ListBySupplier returns a supplier's purchase orders.
func (s *Service) ListBySupplier(ctx context.Context, supplierID int64) ([]PurchaseOrder, error) {
	exists, err := s.suppliers.Exists(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, supplier.ErrNotFound
	}
	return s.repo.ListBySupplier(ctx, supplierID)
}

func generatePONumber() string {
	return "PO-" + time.Now().Format("20060102") + "-" + uuid.New().String()[:8]
}
