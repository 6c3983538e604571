package ledger

// =============================================================================
// REWARD RATES - Per-tier accrual configuration
// =============================================================================

// RewardRates holds a product's reward rate per non-administrator tier,
// in points per unit sold at that tier.
type RewardRates struct {
	P1 int64
	P2 int64
	P3 int64
}

// ForTier returns the accrual rate for a seller at the given tier.
//
// The terminal retail tier (p3) accrues nothing: there is nobody below it
// to sell to, so its configured rate is informational only. Administrators
// accrue through the injection tier configured on the engine, not through
// a rate of their own.
func (r RewardRates) ForTier(t Tier) int64 {
	switch t {
	case TierP1:
		return r.P1
	case TierP2:
		return r.P2
	default:
		return 0
	}
}

// AccruePoints sums quantity x rate across all items of a transfer for a
// seller at the given tier. products must be parallel to items.
func AccruePoints(items []TransferItem, products []*Product, tier Tier) int64 {
	var points int64
	for i, it := range items {
		points += products[i].Rewards.ForTier(tier) * it.Quantity
	}
	return points
}
