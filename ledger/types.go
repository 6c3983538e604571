/*
Package ledger provides the core inventory transfer and reward engine.

PURPOSE:
  This package contains the types and algorithms that move stock between
  accounts in the distribution hierarchy and accrue reward points to the
  seller. Everything that touches an account's stock balance or reward
  total goes through the Engine in this package - no other component
  writes those fields.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tier: An account's position in the hierarchy (admin > p1 > p2 > p3)
  - Account: A transfer participant with a stock balance and reward total
  - Product: A catalog entry with a unit price and per-tier reward rates
  - TransferItem/TransferRequest: A proposed stock movement
  - TransferRecord: The immutable audit entry for an accepted transfer

DESIGN PRINCIPLES:
  1. Immutability: Transfer records are never modified or deleted
  2. Precision: Uses decimal.Decimal for prices to avoid float errors
  3. Recomputation: Totals are recomputed from the catalog, never trusted
     from the client
  4. Closed system: Stock only enters via admin injection and only moves
     between accounts; it is never destroyed

SEE ALSO:
  - engine.go: The transfer algorithm
  - reward.go: Reward accrual rules
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIERS - Distribution hierarchy
// =============================================================================

// Tier is an account's position in the distribution hierarchy.
// Stock flows downward: admin injects into p1, p1 sells to p2, p2 to p3.
type Tier string

const (
	TierAdmin Tier = "admin"
	TierP1    Tier = "p1"
	TierP2    Tier = "p2"
	TierP3    Tier = "p3"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierAdmin, TierP1, TierP2, TierP3:
		return true
	}
	return false
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	return t, t.Valid()
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransferID string

// =============================================================================
// ACCOUNT - A transfer participant
// =============================================================================

// Account is a participant in the distribution hierarchy. The stock
// balance and reward total are mutated exclusively by the Engine;
// accounts are created at onboarding and never deleted.
type Account struct {
	ID          AccountID
	Name        string
	PhoneNumber string
	Email       string
	Tier        Tier

	// Optional identity fields captured at onboarding.
	GSTNumber     string
	AadhaarNumber string
	PANNumber     string

	// RewardPoints only ever increases. There is no reversal operation.
	RewardPoints int64

	CreatedAt time.Time
}

// StockBalance maps product name to on-hand quantity. Keys are present
// only while the quantity is positive; a debit that reaches zero removes
// the entry.
type StockBalance map[string]int64

// Quantity returns the on-hand quantity for a product (zero if absent).
func (b StockBalance) Quantity(product string) int64 {
	return b[product]
}

// Total returns the sum of all quantities.
func (b StockBalance) Total() int64 {
	var total int64
	for _, q := range b {
		total += q
	}
	return total
}

// =============================================================================
// PRODUCT - A catalog entry
// =============================================================================

// Product is a catalog entry. Immutable once referenced by a transfer;
// price and rate changes apply to future transfers only.
type Product struct {
	ID        string
	Name      string // unique
	Price     decimal.Decimal
	Rewards   RewardRates
	CreatedAt time.Time
}

// =============================================================================
// TRANSFER REQUEST - A proposed stock movement
// =============================================================================

// TransferItem is one product line in a transfer.
//
// Items are an ordered list rather than a map: the engine validates stock
// in request order and reports the FIRST shortfall, which requires a
// deterministic iteration order that Go maps (and JSON objects) don't give.
type TransferItem struct {
	Product  string
	Quantity int64
}

// TransferRequest is a proposed transfer from a source account to a
// destination account. A nil SourceID denotes an admin injection: stock is
// drawn from an unlimited external supply and nothing is debited.
type TransferRequest struct {
	SourceID      *AccountID
	DestinationID AccountID
	Items         []TransferItem

	// SubmittedTotal is the client's idea of the total price. It is
	// informational only - the engine recomputes the total from the
	// catalog and rejects the request if they disagree beyond tolerance.
	SubmittedTotal decimal.Decimal

	// IdempotencyKey, when set, dedupes retries: a repeated submission
	// with a known key returns the prior record unchanged.
	IdempotencyKey string
}

// InjectionRequest is the admin-only variant of a transfer: no source
// account, stock appears from outside the system.
type InjectionRequest struct {
	DestinationID  AccountID
	Items          []TransferItem
	SubmittedTotal decimal.Decimal
	IdempotencyKey string
}

// =============================================================================
// TRANSFER RECORD - Immutable audit entry
// =============================================================================

// TransferRecord is the audit entry for one accepted transfer. Created
// exactly once per accepted transfer, never mutated or deleted; the set of
// all records forms an append-only ledger.
type TransferRecord struct {
	ID TransferID

	// SourceID is nil for admin injections.
	SourceID      *AccountID
	DestinationID AccountID

	Items []TransferItem

	// TotalPrice is the recomputed sum of unit price x quantity at
	// submission time. Authoritative - not the client-supplied value.
	TotalPrice decimal.Decimal

	// Tiers at time of transfer. SourceTier is TierAdmin for injections.
	SourceTier      Tier
	DestinationTier Tier

	// RewardPoints accrued by this transfer.
	RewardPoints int64

	IdempotencyKey string
	CreatedAt      time.Time
}

// IsInjection reports whether the record is an admin injection.
func (r *TransferRecord) IsInjection() bool {
	return r.SourceID == nil
}
