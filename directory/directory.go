/*
Package directory manages the account directory.

PURPOSE:
  Accounts are the parties of every transfer: the admin at the top of the
  distribution chain and the p1/p2/p3 tiers below it. This package owns
  account creation (phone-unique) and the lookups the onboarding and login
  flows need. Accounts are never deleted; their reward totals and stock
  balances live with them.

SEE ALSO:
  - ledger/types.go: Account, Tier
  - otp/otp.go: phone verification before creation/login
*/
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rythmn1111/coupon-collector/ledger"
)

// Store is the subset of persistence the directory needs.
type Store interface {
	GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (*ledger.Account, error)
	CreateAccount(ctx context.Context, a ledger.Account) error
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateInput carries the fields submitted at onboarding. Tier defaults
// to p1 when empty; identity fields are optional.
type CreateInput struct {
	Name          string
	PhoneNumber   string
	Email         string
	Tier          ledger.Tier
	GSTNumber     string
	AadhaarNumber string
	PANNumber     string
}

// Create registers a new account. Phone numbers are unique; registering
// an existing number fails with ErrDuplicateAccount.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ledger.Account, error) {
	name := strings.TrimSpace(in.Name)
	phone := strings.TrimSpace(in.PhoneNumber)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if phone == "" {
		return nil, fmt.Errorf("phone number is required")
	}

	tier := ledger.TierP1
	if in.Tier != "" {
		parsed, ok := ledger.ParseTier(string(in.Tier))
		if !ok {
			return nil, fmt.Errorf("unknown tier %q", in.Tier)
		}
		tier = parsed
	}

	a := ledger.Account{
		ID:            ledger.AccountID(uuid.NewString()),
		Name:          name,
		PhoneNumber:   phone,
		Email:         strings.TrimSpace(in.Email),
		Tier:          tier,
		GSTNumber:     strings.TrimSpace(in.GSTNumber),
		AadhaarNumber: strings.TrimSpace(in.AadhaarNumber),
		PANNumber:     strings.TrimSpace(in.PANNumber),
		RewardPoints:  0,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByID returns the account, or a typed AccountNotFoundError.
func (s *Service) FindByID(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &ledger.AccountNotFoundError{AccountID: id}
	}
	return a, nil
}

// FindByPhone returns the account registered with a phone number, or
// nil when the number is unknown. Onboarding uses the nil result to
// decide between sign-up and login.
func (s *Service) FindByPhone(ctx context.Context, phone string) (*ledger.Account, error) {
	return s.store.GetAccountByPhone(ctx, strings.TrimSpace(phone))
}

// List returns all registered accounts.
func (s *Service) List(ctx context.Context) ([]ledger.Account, error) {
	return s.store.ListAccounts(ctx)
}
