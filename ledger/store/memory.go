// Package store provides ledger.TxStore implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rythmn1111/coupon-collector/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory TxStore. WithTx runs against a deep copy of the
// state and swaps it in on success, so a failed transfer leaves nothing
// behind. A single mutex serializes writers, which gives the same
// isolation the engine requires from the SQL store.
type Memory struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	accounts  map[ledger.AccountID]ledger.Account
	stock     map[ledger.AccountID]ledger.StockBalance
	products  map[string]ledger.Product
	transfers []ledger.TransferRecord
	byKey     map[string]int // idempotency key -> index into transfers
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() *state {
	return &state{
		accounts: make(map[ledger.AccountID]ledger.Account),
		stock:    make(map[ledger.AccountID]ledger.StockBalance),
		products: make(map[string]ledger.Product),
		byKey:    make(map[string]int),
	}
}

// =============================================================================
// SEEDING HELPERS (tests and dev servers)
// =============================================================================

// PutAccount inserts or replaces an account record.
func (m *Memory) PutAccount(a ledger.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.accounts[a.ID] = a
}

// PutProduct inserts or replaces a catalog entry.
func (m *Memory) PutProduct(p ledger.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.Name] = p
}

// SetStock overwrites an account's balance for a product.
func (m *Memory) SetStock(id ledger.AccountID, product string, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.state.stock[id]
	if bal == nil {
		bal = make(ledger.StockBalance)
		m.state.stock[id] = bal
	}
	if qty == 0 {
		delete(bal, product)
		return
	}
	bal[product] = qty
}

// StockBalance returns a copy of an account's full balance map.
func (m *Memory) StockBalance(id ledger.AccountID) ledger.StockBalance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(ledger.StockBalance, len(m.state.stock[id]))
	for k, v := range m.state.stock[id] {
		out[k] = v
	}
	return out
}

// =============================================================================
// DIRECTORY OPERATIONS (catalog and account services)
// =============================================================================

// CreateAccount inserts a new account, enforcing phone uniqueness.
func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.accounts {
		if existing.PhoneNumber == a.PhoneNumber || existing.ID == a.ID {
			return ledger.ErrDuplicateAccount
		}
	}
	m.state.accounts[a.ID] = a
	return nil
}

// GetAccountByPhone returns the account with a phone number, or nil.
func (m *Memory) GetAccountByPhone(_ context.Context, phone string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.state.accounts {
		if a.PhoneNumber == phone {
			acct := a
			return &acct, nil
		}
	}
	return nil, nil
}

// ListAccounts returns all accounts in unspecified order.
func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Account, 0, len(m.state.accounts))
	for _, a := range m.state.accounts {
		out = append(out, a)
	}
	return out, nil
}

// CreateProduct inserts a new catalog entry, enforcing name uniqueness.
func (m *Memory) CreateProduct(_ context.Context, p ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.state.products[p.Name]; exists {
		return ledger.ErrDuplicateProduct
	}
	m.state.products[p.Name] = p
	return nil
}

// ListProducts returns all catalog entries in unspecified order.
func (m *Memory) ListProducts(_ context.Context) ([]ledger.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Product, 0, len(m.state.products))
	for _, p := range m.state.products {
		out = append(out, p)
	}
	return out, nil
}

// Transfers returns a copy of all recorded transfers, in append order.
func (m *Memory) Transfers() []ledger.TransferRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.TransferRecord, len(m.state.transfers))
	copy(out, m.state.transfers)
	return out
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getAccount(id)
}

func (m *Memory) StockQuantity(_ context.Context, id ledger.AccountID, product string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.stockQuantity(id, product)
}

func (m *Memory) AdjustStock(_ context.Context, id ledger.AccountID, product string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.adjustStock(id, product, delta)
}

func (m *Memory) AddRewardPoints(_ context.Context, id ledger.AccountID, points int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.addRewardPoints(id, points)
}

func (m *Memory) GetProduct(_ context.Context, name string) (*ledger.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getProduct(name)
}

func (m *Memory) AppendTransfer(_ context.Context, rec ledger.TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendTransfer(rec)
}

func (m *Memory) GetTransferByKey(_ context.Context, key string) (*ledger.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.transferByKey(key)
}

// WithTx clones the state, applies fn to the clone, and commits by
// swapping the clone in. Serialized by the store mutex.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.state.clone()
	if err := fn(&txView{state: staged}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

// txView exposes a staged state as a ledger.Store. The outer mutex is
// already held; no locking here.
type txView struct {
	state *state
}

func (v *txView) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return v.state.getAccount(id)
}

func (v *txView) StockQuantity(_ context.Context, id ledger.AccountID, product string) (int64, error) {
	return v.state.stockQuantity(id, product)
}

func (v *txView) AdjustStock(_ context.Context, id ledger.AccountID, product string, delta int64) error {
	return v.state.adjustStock(id, product, delta)
}

func (v *txView) AddRewardPoints(_ context.Context, id ledger.AccountID, points int64) error {
	return v.state.addRewardPoints(id, points)
}

func (v *txView) GetProduct(_ context.Context, name string) (*ledger.Product, error) {
	return v.state.getProduct(name)
}

func (v *txView) AppendTransfer(_ context.Context, rec ledger.TransferRecord) error {
	return v.state.appendTransfer(rec)
}

func (v *txView) GetTransferByKey(_ context.Context, key string) (*ledger.TransferRecord, error) {
	return v.state.transferByKey(key)
}

// =============================================================================
// STATE OPERATIONS
// =============================================================================

func (s *state) getAccount(id ledger.AccountID) (*ledger.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *state) stockQuantity(id ledger.AccountID, product string) (int64, error) {
	return s.stock[id][product], nil
}

func (s *state) adjustStock(id ledger.AccountID, product string, delta int64) error {
	bal := s.stock[id]
	if bal == nil {
		bal = make(ledger.StockBalance)
		s.stock[id] = bal
	}
	next := bal[product] + delta
	if next < 0 {
		return fmt.Errorf("stock for %s would go negative (%d)", product, next)
	}
	if next == 0 {
		delete(bal, product)
		return nil
	}
	bal[product] = next
	return nil
}

func (s *state) addRewardPoints(id ledger.AccountID, points int64) error {
	a, ok := s.accounts[id]
	if !ok {
		return &ledger.AccountNotFoundError{AccountID: id}
	}
	if points < 0 {
		return fmt.Errorf("reward points cannot decrease")
	}
	a.RewardPoints += points
	s.accounts[id] = a
	return nil
}

func (s *state) getProduct(name string) (*ledger.Product, error) {
	p, ok := s.products[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *state) appendTransfer(rec ledger.TransferRecord) error {
	if rec.IdempotencyKey != "" {
		if _, exists := s.byKey[rec.IdempotencyKey]; exists {
			return ledger.ErrDuplicateTransfer
		}
		s.byKey[rec.IdempotencyKey] = len(s.transfers)
	}
	s.transfers = append(s.transfers, rec)
	return nil
}

func (s *state) transferByKey(key string) (*ledger.TransferRecord, error) {
	if i, ok := s.byKey[key]; ok {
		rec := s.transfers[i]
		return &rec, nil
	}
	return nil, nil
}

func (s *state) clone() *state {
	next := newState()
	for id, a := range s.accounts {
		next.accounts[id] = a
	}
	for id, bal := range s.stock {
		cp := make(ledger.StockBalance, len(bal))
		for k, v := range bal {
			cp[k] = v
		}
		next.stock[id] = cp
	}
	for name, p := range s.products {
		next.products[name] = p
	}
	next.transfers = append(next.transfers, s.transfers...)
	for k, i := range s.byKey {
		next.byKey[k] = i
	}
	return next
}
