package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lumina-pos/lumina-pos/internal/platform/httpx"
	"github.com/lumina-pos/lumina-pos/internal/shared"
)

// Handler exposes the ledger operations over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	operator func(http.Handler) http.Handler
}

// NewHandler builds the Handler. The operator middleware guards the repair
// and delete endpoints.
func NewHandler(logger *slog.Logger, service *Service, operator func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		operator: operator,
	}
}

// MountRoutes registers ledger routes next to the supplier registry's own
// /suppliers routes, so the patterns stay flat instead of mounting a
// subrouter over a shared prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/suppliers/{supplierID}/balance", h.getBalance)
	r.Get("/suppliers/{supplierID}/ledger", h.listHistory)
	r.Get("/suppliers/{supplierID}/outstanding", h.listOutstanding)
	r.Get("/suppliers/{supplierID}/statement", h.getStatement)
	r.Post("/suppliers/{supplierID}/payments", h.recordPayment)
	r.Post("/suppliers/{supplierID}/entries", h.recordManualEntry)

	r.Group(func(r chi.Router) {
		if h.operator != nil {
			r.Use(h.operator)
		}
		r.Post("/suppliers/{supplierID}/recalculate", h.recalculate)
		r.Delete("/ledger/entries/{id}", h.deleteEntry)
	})
}

type manualEntryRequest struct {
	Kind        string `json:"kind" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"omitempty,max=255"`
}

type recordPaymentRequest struct {
	Amount         string `json:"amount" validate:"required"`
	Method         string `json:"method" validate:"omitempty,max=40"`
	Note           string `json:"note" validate:"omitempty,max=255"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=64"`
}

type entryResponse struct {
	ID              int64  `json:"id"`
	SupplierID      int64  `json:"supplier_id"`
	DebtReferenceID *int64 `json:"debt_reference_id,omitempty"`
	Kind            string `json:"kind"`
	SignedAmount    string `json:"signed_amount"`
	RunningBalance  string `json:"running_balance"`
	PaidAmount      string `json:"paid_amount,omitempty"`
	Status          string `json:"payment_status,omitempty"`
	Number          string `json:"number"`
	Description     string `json:"description,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type allocationResponse struct {
	ID             int64  `json:"id"`
	PaymentEntryID int64  `json:"payment_entry_id"`
	DebtEntryID    int64  `json:"debt_entry_id"`
	Amount         string `json:"amount"`
}

type paymentResponse struct {
	Payment     entryResponse        `json:"payment"`
	Allocations []allocationResponse `json:"allocations"`
	NewBalance  string               `json:"new_balance"`
}

func toEntryResponse(e LedgerEntry) entryResponse {
	resp := entryResponse{
		ID:              e.ID,
		SupplierID:      e.SupplierID,
		DebtReferenceID: e.DebtReferenceID,
		Kind:            string(e.Kind),
		SignedAmount:    e.SignedAmount.String(),
		RunningBalance:  e.RunningBalance.String(),
		Number:          e.Number,
		Description:     e.Description,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
	if e.IsDebt() {
		resp.PaidAmount = e.PaidAmount.String()
		resp.Status = string(e.Status)
	}
	return resp
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), supplierID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.ListHistory(r.Context(), supplierID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) listOutstanding(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListOutstanding(r.Context(), supplierID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	stmt, err := h.service.Statement(r.Context(), supplierID, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stmt)
}

func (h *Handler) recordManualEntry(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	var req manualEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	kind, err := ParseEntryKind(req.Kind)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown entry kind")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a number")
		return
	}

	entry, err := h.service.RecordManualEntry(r.Context(), AppendInput{
		SupplierID:  supplierID,
		Kind:        kind,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a number")
		return
	}

	result, err := h.service.RecordPayment(r.Context(), PaymentInput{
		SupplierID:     supplierID,
		Amount:         amount,
		Method:         req.Method,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := paymentResponse{
		Payment:    toEntryResponse(result.Payment),
		NewBalance: result.NewBalance.String(),
	}
	for _, rec := range result.Allocations {
		resp.Allocations = append(resp.Allocations, allocationResponse{
			ID:             rec.ID,
			PaymentEntryID: rec.PaymentEntryID,
			DebtEntryID:    rec.DebtEntryID,
			Amount:         rec.Amount.String(),
		})
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.RecalculateBalance(r.Context(), supplierID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"outstanding_balance": balance.String()})
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	if err := h.service.DeleteEntry(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) supplierID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "supplierID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid supplier id")
		return 0, false
	}
	return id, true
}

func toEntryResponses(entries []LedgerEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return out
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var excess *ExcessPaymentError
	switch {
	case errors.As(err, &excess):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Excess Payment",
			"payment "+excess.Amount.String()+" exceeds outstanding balance "+excess.Balance.String())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrEntryAllocated):
		httpx.Problem(w, http.StatusConflict, "Entry Allocated", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrAllocation):
		h.logger.Error("ledger desync surfaced to caller", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Ledger Desync", "")
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
