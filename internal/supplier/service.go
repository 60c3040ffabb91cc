package supplier

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Store is the persistence surface the service needs. Implemented by
// Repository.
type Store interface {
	Create(ctx context.Context, input CreateSupplierInput) (Supplier, error)
	Get(ctx context.Context, id int64) (Supplier, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, limit, offset int) ([]Supplier, int, error)
}

// Service wraps supplier registry operations consumed by the ledger and
// the administrative API.
type Service struct {
	repo Store
}

// NewService constructs the service.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// Create validates and registers a supplier. A missing code is generated
// from the name; when that collides with an existing supplier the code is
// retried once with a random suffix.
func (s *Service) Create(ctx context.Context, input CreateSupplierInput) (Supplier, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Supplier{}, errors.New("supplier: name is required")
	}
	if input.Code != "" {
		return s.repo.Create(ctx, input)
	}

	input.Code = generateCode(input.Name)
	created, err := s.repo.Create(ctx, input)
	if errors.Is(err, ErrDuplicateCode) {
		input.Code = generateCode(input.Name) + "-" + codeSuffix()
		return s.repo.Create(ctx, input)
	}
	return created, err
}

// Get returns one supplier.
func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of suppliers with the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Supplier, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// Exists reports whether the supplier id is known. The ledger uses this as
// its creditor resolver.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	return s.repo.Exists(ctx, id)
}

func generateCode(name string) string {
	runes := []rune(strings.ToUpper(strings.ReplaceAll(name, " ", "")))
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return "SUP-" + string(runes)
}

func codeSuffix() string {
	return strings.ToUpper(uuid.New().String()[:4])
}
