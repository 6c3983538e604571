/*
engine.go - The transfer algorithm

PURPOSE:
  Validates a proposed transfer, computes reward accrual, and atomically
  applies balance deltas to both parties. This is the ONLY code path that
  mutates stock balances and reward totals.

ALGORITHM (one all-or-nothing pass, no saga):
  1. Resolve destination (and source, unless injection)  -> AccountNotFound
  2. Reject empty/non-positive item lists                -> EmptyTransfer
  3. Check source stock in request order, first shortfall -> InsufficientStock
  4. Resolve each product, recompute the total            -> UnknownProduct
     Compare against the submitted total                  -> PriceMismatch
  5. Accrue reward for the seller's tier (or the configured injection tier)
  6. Atomically: debit source, credit destination, credit reward, append
     the transfer record
  7. Return the persisted record

  Steps 1-6 all run inside a single TxStore.WithTx call: a rejected
  transfer leaves no trace, concurrent transfers on the same account
  serialize, and two racing full-balance transfers can never jointly
  overdraw (exactly one gets InsufficientStock).

IDEMPOTENCY:
  A request carrying an idempotency key that was already accepted returns
  the prior record unchanged. Requests without a key are independent
  transfers even when byte-identical.

SEE ALSO:
  - reward.go: Accrual rates
  - store.go: The atomicity contract WithTx must honor
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Config tunes engine behavior.
type Config struct {
	// PriceTolerance is the maximum |submitted - computed| total accepted
	// before a transfer fails with PriceMismatch. Defaults to exact match.
	PriceTolerance decimal.Decimal

	// InjectionRewardTier selects whose rate table admin injections accrue
	// with. The observed business behavior pinned this to p1; it is
	// configurable pending product-owner confirmation.
	InjectionRewardTier Tier
}

// DefaultConfig returns the engine defaults: exact price match, p1
// injection rewards.
func DefaultConfig() Config {
	return Config{
		PriceTolerance:      decimal.Zero,
		InjectionRewardTier: TierP1,
	}
}

// Engine executes transfers against a transactional store. The store
// handle is injected once at construction - the engine holds no ambient
// or global state.
type Engine struct {
	store TxStore
	cfg   Config
	now   func() time.Time
	newID func() TransferID
}

// NewEngine creates an engine on the given store.
func NewEngine(store TxStore, cfg Config) *Engine {
	if !cfg.InjectionRewardTier.Valid() {
		cfg.InjectionRewardTier = TierP1
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() TransferID { return TransferID(uuid.NewString()) },
	}
}

// =============================================================================
// EXECUTE - One all-or-nothing transfer
// =============================================================================

// Execute validates and applies a transfer. On success exactly two
// accounts (one, for injections) have been durably mutated and one record
// appended; on failure nothing has changed.
func (e *Engine) Execute(ctx context.Context, req TransferRequest) (*TransferRecord, error) {
	var rec *TransferRecord
	err := e.store.WithTx(ctx, func(s Store) error {
		// Replayed submission: hand back the prior record untouched.
		if req.IdempotencyKey != "" {
			prior, err := s.GetTransferByKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				rec = prior
				return nil
			}
		}

		dest, err := s.GetAccount(ctx, req.DestinationID)
		if err != nil {
			return err
		}
		if dest == nil {
			return &AccountNotFoundError{AccountID: req.DestinationID}
		}

		var src *Account
		if req.SourceID != nil {
			src, err = s.GetAccount(ctx, *req.SourceID)
			if err != nil {
				return err
			}
			if src == nil {
				return &AccountNotFoundError{AccountID: *req.SourceID}
			}
		}

		if err := validateItems(req.Items); err != nil {
			return err
		}
		items := mergeItems(req.Items)

		// Stock check in request order. The first shortfall rejects the
		// whole transfer - no partial application.
		if src != nil {
			for _, it := range items {
				available, err := s.StockQuantity(ctx, src.ID, it.Product)
				if err != nil {
					return err
				}
				if available < it.Quantity {
					return &InsufficientStockError{
						Product:   it.Product,
						Available: available,
						Requested: it.Quantity,
					}
				}
			}
		}

		// Catalog resolution and total recomputation. The recomputed
		// value is authoritative.
		products := make([]*Product, len(items))
		total := decimal.Zero
		for i, it := range items {
			p, err := s.GetProduct(ctx, it.Product)
			if err != nil {
				return err
			}
			if p == nil {
				return &UnknownProductError{Product: it.Product}
			}
			products[i] = p
			total = total.Add(p.Price.Mul(decimal.NewFromInt(it.Quantity)))
		}

		if total.Sub(req.SubmittedTotal).Abs().GreaterThan(e.cfg.PriceTolerance) {
			return &PriceMismatchError{Submitted: req.SubmittedTotal, Computed: total}
		}

		sellerTier := e.cfg.InjectionRewardTier
		sourceTier := TierAdmin
		if src != nil {
			sellerTier = src.Tier
			sourceTier = src.Tier
		}
		points := AccruePoints(items, products, sellerTier)

		// Mutate. Injections skip the debit: stock is drawn from an
		// unlimited external supply.
		if src != nil {
			for _, it := range items {
				if err := s.AdjustStock(ctx, src.ID, it.Product, -it.Quantity); err != nil {
					return err
				}
			}
		}
		for _, it := range items {
			if err := s.AdjustStock(ctx, dest.ID, it.Product, it.Quantity); err != nil {
				return err
			}
		}

		// The seller earns the points; for injections they land on the
		// destination, there being no source account to credit.
		if points > 0 {
			beneficiary := dest.ID
			if src != nil {
				beneficiary = src.ID
			}
			if err := s.AddRewardPoints(ctx, beneficiary, points); err != nil {
				return err
			}
		}

		rec = &TransferRecord{
			ID:              e.newID(),
			SourceID:        req.SourceID,
			DestinationID:   dest.ID,
			Items:           items,
			TotalPrice:      total,
			SourceTier:      sourceTier,
			DestinationTier: dest.Tier,
			RewardPoints:    points,
			IdempotencyKey:  req.IdempotencyKey,
			CreatedAt:       e.now(),
		}
		return s.AppendTransfer(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Inject records an administrator injection: the restricted variant of
// Execute with no source account. Nothing is debited and reward accrues
// with the configured injection tier's rates.
func (e *Engine) Inject(ctx context.Context, req InjectionRequest) (*TransferRecord, error) {
	return e.Execute(ctx, TransferRequest{
		SourceID:       nil,
		DestinationID:  req.DestinationID,
		Items:          req.Items,
		SubmittedTotal: req.SubmittedTotal,
		IdempotencyKey: req.IdempotencyKey,
	})
}

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

// mergeItems combines repeated product lines, keeping first-occurrence
// order. A request listing the same product twice behaves like one line
// with the summed quantity - validating the lines independently could
// otherwise pass two checks that jointly overdraw.
func mergeItems(items []TransferItem) []TransferItem {
	merged := make([]TransferItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := index[it.Product]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.Product] = len(merged)
		merged = append(merged, it)
	}
	return merged
}

func validateItems(items []TransferItem) error {
	if len(items) == 0 {
		return ErrEmptyTransfer
	}
	for _, it := range items {
		if it.Product == "" || it.Quantity <= 0 {
			return ErrEmptyTransfer
		}
	}
	return nil
}
