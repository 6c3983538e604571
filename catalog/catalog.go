/*
Package catalog manages the product directory.

PURPOSE:
  Products are shared reference data: every account's stock balance and
  every transfer line refers to a product by its unique name. This package
  owns creation-time validation and name resolution; pricing and reward
  rates read here feed the transfer engine.

KEY CONCEPTS:
  - Names are the identity the rest of the system uses. IDs exist for
    stable references in exports, but transfers carry names.
  - Rate changes apply to future transfers only: the transfer engine reads
    the catalog inside its own transactional unit, so an accepted transfer
    snapshots the price and rates it was computed with.

SEE ALSO:
  - ledger/engine.go: catalog reads during transfer validation
  - store/sqlite/sqlite.go: persistence and name uniqueness
*/
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rythmn1111/coupon-collector/ledger"
)

// Store is the subset of persistence the catalog needs.
type Store interface {
	GetProduct(ctx context.Context, name string) (*ledger.Product, error)
	CreateProduct(ctx context.Context, p ledger.Product) error
	ListProducts(ctx context.Context) ([]ledger.Product, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateInput carries the fields an operator submits for a new product.
type CreateInput struct {
	Name    string
	Price   decimal.Decimal
	Rewards ledger.RewardRates
}

// Create validates and registers a new product. Names are unique;
// registering an existing name fails with ErrDuplicateProduct.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ledger.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("product name is required")
	}
	if in.Price.IsNegative() {
		return nil, fmt.Errorf("price cannot be negative")
	}
	if in.Rewards.P1 < 0 || in.Rewards.P2 < 0 || in.Rewards.P3 < 0 {
		return nil, fmt.Errorf("reward rates cannot be negative")
	}

	p := ledger.Product{
		ID:        uuid.NewString(),
		Name:      name,
		Price:     in.Price,
		Rewards:   in.Rewards,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Resolve looks a product up by name. Unknown names fail with a typed
// UnknownProductError so callers can map it cleanly.
func (s *Service) Resolve(ctx context.Context, name string) (*ledger.Product, error) {
	p, err := s.store.GetProduct(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &ledger.UnknownProductError{Product: name}
	}
	return p, nil
}

// List returns all registered products.
func (s *Service) List(ctx context.Context) ([]ledger.Product, error) {
	return s.store.ListProducts(ctx)
}
