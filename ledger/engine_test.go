package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rythmn1111/coupon-collector/ledger"
	"github.com/rythmn1111/coupon-collector/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine() (*ledger.Engine, *store.Memory) {
	mem := store.NewMemory()
	return ledger.NewEngine(mem, ledger.DefaultConfig()), mem
}

func seedAccount(mem *store.Memory, id string, tier ledger.Tier, stock ledger.StockBalance) {
	mem.PutAccount(ledger.Account{
		ID:          ledger.AccountID(id),
		Name:        id,
		PhoneNumber: "99999" + id,
		Tier:        tier,
	})
	for product, qty := range stock {
		mem.SetStock(ledger.AccountID(id), product, qty)
	}
}

func seedProduct(mem *store.Memory, name string, price string, p1, p2, p3 int64) {
	mem.PutProduct(ledger.Product{
		ID:      "prod-" + name,
		Name:    name,
		Price:   dec(price),
		Rewards: ledger.RewardRates{P1: p1, P2: p2, P3: p3},
	})
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func srcID(id string) *ledger.AccountID {
	a := ledger.AccountID(id)
	return &a
}

func items(pairs ...any) []ledger.TransferItem {
	var out []ledger.TransferItem
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, ledger.TransferItem{
			Product:  pairs[i].(string),
			Quantity: int64(pairs[i+1].(int)),
		})
	}
	return out
}

func rewardOf(t *testing.T, mem *store.Memory, id string) int64 {
	t.Helper()
	acct, err := mem.GetAccount(context.Background(), ledger.AccountID(id))
	require.NoError(t, err)
	require.NotNil(t, acct)
	return acct.RewardPoints
}

// =============================================================================
// HAPPY PATH - The reference scenario
// =============================================================================

func TestExecute_TierOneSale_MovesStockAndAccruesReward(t *testing.T) {
	// GIVEN: S (p1, {"Paint": 10}, reward 0), B (p2, {}); Paint costs 100
	// with a p1 rate of 2/unit
	// WHEN: S transfers {"Paint": 4} to B with the correct total of 400
	// THEN: S has 6 Paint and 8 points, B has 4 Paint, the record totals 400

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 10})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "100", 2, 1, 0)

	rec, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Paint", 4),
		SubmittedTotal: dec("400"),
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, int64(6), mem.StockBalance("S").Quantity("Paint"))
	assert.Equal(t, int64(4), mem.StockBalance("B").Quantity("Paint"))
	assert.Equal(t, int64(8), rewardOf(t, mem, "S"))
	assert.Equal(t, int64(0), rewardOf(t, mem, "B"))

	assert.True(t, rec.TotalPrice.Equal(dec("400")), "total should be 400, got %s", rec.TotalPrice)
	assert.Equal(t, ledger.TierP1, rec.SourceTier)
	assert.Equal(t, ledger.TierP2, rec.DestinationTier)
	assert.Equal(t, int64(8), rec.RewardPoints)
	assert.False(t, rec.IsInjection())
}

func TestExecute_DebitToZero_RemovesBalanceEntry(t *testing.T) {
	// GIVEN: S holds exactly 3 Paint
	// WHEN: S transfers all 3
	// THEN: the Paint key disappears from S's balance (source-side cleanup),
	// while B keeps an explicit entry

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 3})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "10", 1, 0, 0)

	_, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Paint", 3),
		SubmittedTotal: dec("30"),
	})
	require.NoError(t, err)

	_, present := mem.StockBalance("S")["Paint"]
	assert.False(t, present, "zeroed entry should be removed")
	assert.Equal(t, int64(3), mem.StockBalance("B").Quantity("Paint"))
}

// =============================================================================
// VALIDATION FAILURES - All-or-nothing rejection
// =============================================================================

func TestExecute_InsufficientStock_RejectsWholeTransfer(t *testing.T) {
	// GIVEN: S holds only 3 Paint
	// WHEN: S attempts to transfer 4
	// THEN: InsufficientStock("Paint", 3, 4); balances untouched, no record

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 3})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "100", 2, 1, 0)

	rec, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Paint", 4),
		SubmittedTotal: dec("400"),
	})
	require.Error(t, err)
	assert.Nil(t, rec)

	var shortfall *ledger.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, "Paint", shortfall.Product)
	assert.Equal(t, int64(3), shortfall.Available)
	assert.Equal(t, int64(4), shortfall.Requested)

	assert.Equal(t, int64(3), mem.StockBalance("S").Quantity("Paint"))
	assert.Equal(t, int64(0), mem.StockBalance("B").Quantity("Paint"))
	assert.Equal(t, int64(0), rewardOf(t, mem, "S"))
	assert.Empty(t, mem.Transfers(), "rejected transfer must not be recorded")
}

func TestExecute_FirstShortfallWins_RequestOrder(t *testing.T) {
	// GIVEN: S is short on both Brush and Paint
	// WHEN: the request lists Brush before Paint
	// THEN: the error names Brush - the first shortfall in request order

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 1, "Brush": 1})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "100", 2, 1, 0)
	seedProduct(mem, "Brush", "20", 1, 1, 0)

	_, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Brush", 5, "Paint", 5),
		SubmittedTotal: dec("600"),
	})

	var shortfall *ledger.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, "Brush", shortfall.Product)
}

func TestExecute_EmptyAndNonPositiveItems_Rejected(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 10})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "100", 2, 1, 0)

	cases := map[string][]ledger.TransferItem{
		"no items":      nil,
		"zero quantity": items("Paint", 0),
		"negative":      {{Product: "Paint", Quantity: -2}},
		"blank product": {{Product: "", Quantity: 1}},
	}

	for name, badItems := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Execute(ctx, ledger.TransferRequest{
				SourceID:       srcID("S"),
				DestinationID:  "B",
				Items:          badItems,
				SubmittedTotal: dec("0"),
			})
			assert.ErrorIs(t, err, ledger.ErrEmptyTransfer)
		})
	}

	assert.Equal(t, int64(10), mem.StockBalance("S").Quantity("Paint"))
}

func TestExecute_UnknownAccountOrProduct(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 10})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "100", 2, 1, 0)

	// Missing destination
	_, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "ghost",
		Items:          items("Paint", 1),
		SubmittedTotal: dec("100"),
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	// Missing source
	_, err = engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("ghost"),
		DestinationID:  "B",
		Items:          items("Paint", 1),
		SubmittedTotal: dec("100"),
	})
	var notFound *ledger.AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, ledger.AccountID("ghost"), notFound.AccountID)

	// Product not in catalog. S holds some, but the catalog is authoritative.
	mem.SetStock("S", "Varnish", 5)
	_, err = engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Varnish", 1),
		SubmittedTotal: dec("0"),
	})
	var unknown *ledger.UnknownProductError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Varnish", unknown.Product)
}

func TestExecute_PriceMismatch_RecomputedTotalIsAuthoritative(t *testing.T) {
	// GIVEN: catalog prices {A: 10.00, B: 5.50}
	// WHEN: requesting {A: 2, B: 1} with a wrong submitted total
	// THEN: PriceMismatch carrying computed 25.50; a correct submission
	// commits a record with exactly 25.50

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"A": 5, "B": 5})
	seedAccount(mem, "B2", ledger.TierP2, nil)
	seedProduct(mem, "A", "10.00", 1, 0, 0)
	seedProduct(mem, "B", "5.50", 1, 0, 0)

	_, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B2",
		Items:          items("A", 2, "B", 1),
		SubmittedTotal: dec("24"),
	})
	var mismatch *ledger.PriceMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.Computed.Equal(dec("25.50")))
	assert.True(t, mismatch.Submitted.Equal(dec("24")))

	rec, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B2",
		Items:          items("A", 2, "B", 1),
		SubmittedTotal: dec("25.50"),
	})
	require.NoError(t, err)
	assert.True(t, rec.TotalPrice.Equal(dec("25.50")))
}

func TestExecute_PriceTolerance_AllowsSmallDrift(t *testing.T) {
	// GIVEN: an engine configured with a 0.01 tolerance
	// WHEN: the submitted total is off by half a cent
	// THEN: the transfer is accepted and the committed total is the
	// recomputed one, not the submitted one

	mem := store.NewMemory()
	cfg := ledger.DefaultConfig()
	cfg.PriceTolerance = dec("0.01")
	engine := ledger.NewEngine(mem, cfg)
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"A": 5})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "A", "10.00", 1, 0, 0)

	rec, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("A", 1),
		SubmittedTotal: dec("10.005"),
	})
	require.NoError(t, err)
	assert.True(t, rec.TotalPrice.Equal(dec("10.00")))
}

// =============================================================================
// REWARD ACCRUAL
// =============================================================================

func TestExecute_RewardFollowsSellerTier(t *testing.T) {
	// GIVEN: Paint with rates p1=2, p2=1, p3=5 (p3 rate is informational)
	// WHEN: the same sale happens at each seller tier
	// THEN: p1 earns 2/unit, p2 earns 1/unit, p3 earns nothing

	ctx := context.Background()

	run := func(tier ledger.Tier) (int64, int64) {
		engine, mem := newTestEngine()
		seedAccount(mem, "S", tier, ledger.StockBalance{"Paint": 10})
		seedAccount(mem, "B", ledger.TierP3, nil)
		seedProduct(mem, "Paint", "100", 2, 1, 5)

		rec, err := engine.Execute(ctx, ledger.TransferRequest{
			SourceID:       srcID("S"),
			DestinationID:  "B",
			Items:          items("Paint", 3),
			SubmittedTotal: dec("300"),
		})
		require.NoError(t, err)
		return rec.RewardPoints, rewardOf(t, mem, "S")
	}

	recPoints, acctPoints := run(ledger.TierP1)
	assert.Equal(t, int64(6), recPoints)
	assert.Equal(t, int64(6), acctPoints)

	recPoints, acctPoints = run(ledger.TierP2)
	assert.Equal(t, int64(3), recPoints)
	assert.Equal(t, int64(3), acctPoints)

	recPoints, acctPoints = run(ledger.TierP3)
	assert.Equal(t, int64(0), recPoints, "terminal tier accrues nothing")
	assert.Equal(t, int64(0), acctPoints)
}

func TestExecute_RewardMonotonicity(t *testing.T) {
	// GIVEN: a seller accruing across several transfers
	// THEN: the reward total never decreases and grows by exactly
	// sum(quantity x rate) each time

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 100})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "10", 3, 1, 0)

	var prev int64
	for _, qty := range []int{1, 5, 2} {
		_, err := engine.Execute(ctx, ledger.TransferRequest{
			SourceID:       srcID("S"),
			DestinationID:  "B",
			Items:          items("Paint", qty),
			SubmittedTotal: dec("10").Mul(decimal.NewFromInt(int64(qty))),
		})
		require.NoError(t, err)

		current := rewardOf(t, mem, "S")
		assert.Equal(t, prev+int64(3*qty), current)
		assert.GreaterOrEqual(t, current, prev)
		prev = current
	}
}

// =============================================================================
// ADMIN INJECTION
// =============================================================================

func TestInject_CreditsStockWithoutDebit(t *testing.T) {
	// GIVEN: a p1 account with no prior Brush entry
	// WHEN: the administrator injects {"Brush": 50}
	// THEN: the account gains exactly 50 Brush, nobody else changes, and
	// reward follows the default injection tier (p1) rate

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "P1", ledger.TierP1, nil)
	seedAccount(mem, "bystander", ledger.TierP2, ledger.StockBalance{"Brush": 7})
	seedProduct(mem, "Brush", "20", 1, 0, 0)

	rec, err := engine.Inject(ctx, ledger.InjectionRequest{
		DestinationID:  "P1",
		Items:          items("Brush", 50),
		SubmittedTotal: dec("1000"),
	})
	require.NoError(t, err)

	assert.True(t, rec.IsInjection())
	assert.Nil(t, rec.SourceID)
	assert.Equal(t, ledger.TierAdmin, rec.SourceTier)
	assert.Equal(t, ledger.TierP1, rec.DestinationTier)
	assert.Equal(t, int64(50), rec.RewardPoints)

	assert.Equal(t, int64(50), mem.StockBalance("P1").Quantity("Brush"))
	assert.Equal(t, int64(7), mem.StockBalance("bystander").Quantity("Brush"))
	assert.Equal(t, int64(50), rewardOf(t, mem, "P1"))
}

func TestInject_ConfigurableRewardTier(t *testing.T) {
	// GIVEN: an engine configured to accrue injections at the p2 rate
	// WHEN: the administrator injects 10 units with rates p1=5, p2=2
	// THEN: 20 points accrue, not 50

	mem := store.NewMemory()
	cfg := ledger.DefaultConfig()
	cfg.InjectionRewardTier = ledger.TierP2
	engine := ledger.NewEngine(mem, cfg)
	ctx := context.Background()

	seedAccount(mem, "P1", ledger.TierP1, nil)
	seedProduct(mem, "Brush", "20", 5, 2, 0)

	rec, err := engine.Inject(ctx, ledger.InjectionRequest{
		DestinationID:  "P1",
		Items:          items("Brush", 10),
		SubmittedTotal: dec("200"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec.RewardPoints)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestExecute_RepeatedIdempotencyKey_ReturnsPriorRecord(t *testing.T) {
	// GIVEN: an accepted transfer submitted with an idempotency key
	// WHEN: the identical request is submitted again (client retry)
	// THEN: the prior record comes back unchanged and balances move once

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 10})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "100", 2, 1, 0)

	req := ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Paint", 4),
		SubmittedTotal: dec("400"),
		IdempotencyKey: "retry-123",
	}

	first, err := engine.Execute(ctx, req)
	require.NoError(t, err)

	second, err := engine.Execute(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(6), mem.StockBalance("S").Quantity("Paint"))
	assert.Equal(t, int64(8), rewardOf(t, mem, "S"))
	assert.Len(t, mem.Transfers(), 1)
}

func TestExecute_NoKey_RepeatsApplyIndependently(t *testing.T) {
	// Without a key, identical submissions are independent transfers.

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 10})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "100", 2, 1, 0)

	req := ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Paint", 4),
		SubmittedTotal: dec("400"),
	}

	_, err := engine.Execute(ctx, req)
	require.NoError(t, err)
	_, err = engine.Execute(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int64(2), mem.StockBalance("S").Quantity("Paint"))
	assert.Len(t, mem.Transfers(), 2)
}

// =============================================================================
// DUPLICATE ITEM LINES
// =============================================================================

func TestExecute_RepeatedProductLines_MergeBeforeValidation(t *testing.T) {
	// GIVEN: S holds 10 Paint
	// WHEN: the request lists Paint 6 and Paint 6 as separate lines
	// THEN: the lines behave as one 12-unit line and the transfer is
	// rejected - validating them independently would overdraw

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": 10})
	seedAccount(mem, "B", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "10", 1, 0, 0)

	_, err := engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("S"),
		DestinationID:  "B",
		Items:          items("Paint", 6, "Paint", 6),
		SubmittedTotal: dec("120"),
	})

	var shortfall *ledger.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, int64(12), shortfall.Requested)
	assert.Equal(t, int64(10), mem.StockBalance("S").Quantity("Paint"))
}

// =============================================================================
// CONSERVATION AND RACES
// =============================================================================

func TestExecute_Conservation_AcrossTransferChain(t *testing.T) {
	// GIVEN: 100 units injected at the top of the hierarchy
	// WHEN: stock cascades admin -> p1 -> p2 -> p3
	// THEN: the per-product sum across all accounts stays exactly 100

	engine, mem := newTestEngine()
	ctx := context.Background()

	seedAccount(mem, "p1", ledger.TierP1, nil)
	seedAccount(mem, "p2", ledger.TierP2, nil)
	seedAccount(mem, "p3", ledger.TierP3, nil)
	seedProduct(mem, "Paint", "10", 2, 1, 0)

	_, err := engine.Inject(ctx, ledger.InjectionRequest{
		DestinationID:  "p1",
		Items:          items("Paint", 100),
		SubmittedTotal: dec("1000"),
	})
	require.NoError(t, err)

	_, err = engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("p1"),
		DestinationID:  "p2",
		Items:          items("Paint", 40),
		SubmittedTotal: dec("400"),
	})
	require.NoError(t, err)

	_, err = engine.Execute(ctx, ledger.TransferRequest{
		SourceID:       srcID("p2"),
		DestinationID:  "p3",
		Items:          items("Paint", 15),
		SubmittedTotal: dec("150"),
	})
	require.NoError(t, err)

	total := mem.StockBalance("p1").Quantity("Paint") +
		mem.StockBalance("p2").Quantity("Paint") +
		mem.StockBalance("p3").Quantity("Paint")
	assert.Equal(t, int64(100), total, "injected stock is conserved")
	assert.Equal(t, int64(60), mem.StockBalance("p1").Quantity("Paint"))
	assert.Equal(t, int64(25), mem.StockBalance("p2").Quantity("Paint"))
	assert.Equal(t, int64(15), mem.StockBalance("p3").Quantity("Paint"))
}

func TestExecute_RacingFullBalanceTransfers_ExactlyOneWins(t *testing.T) {
	// GIVEN: S holds exactly Q of a product
	// WHEN: two concurrent requests each ask for all Q
	// THEN: one succeeds, one gets InsufficientStock, final balance is 0

	engine, mem := newTestEngine()
	ctx := context.Background()

	const q = 25
	seedAccount(mem, "S", ledger.TierP1, ledger.StockBalance{"Paint": q})
	seedAccount(mem, "B1", ledger.TierP2, nil)
	seedAccount(mem, "B2", ledger.TierP2, nil)
	seedProduct(mem, "Paint", "10", 1, 0, 0)

	run := func(dest ledger.AccountID) error {
		_, err := engine.Execute(ctx, ledger.TransferRequest{
			SourceID:       srcID("S"),
			DestinationID:  dest,
			Items:          items("Paint", q),
			SubmittedTotal: dec("250"),
		})
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = run("B1") }()
	go func() { defer wg.Done(); errs[1] = run("B2") }()
	wg.Wait()

	var successes, shortfalls int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrInsufficientStock):
			shortfalls++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes, "exactly one transfer must win")
	assert.Equal(t, 1, shortfalls, "the loser must see InsufficientStock")
	assert.Equal(t, int64(0), mem.StockBalance("S").Quantity("Paint"))
	assert.Equal(t, int64(q),
		mem.StockBalance("B1").Quantity("Paint")+mem.StockBalance("B2").Quantity("Paint"))
}
