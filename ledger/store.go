/*
store.go - Persistence interfaces for the transfer engine

PURPOSE:
  Defines the interface between the engine and the database. The transfer
  ledger is APPEND-ONLY: records are inserted exactly once and never
  updated or deleted.

KEY INTERFACES:
  Store:   Reads and mutations the engine performs inside one transfer
  TxStore: Store plus WithTx, the atomic unit the engine runs in

ATOMICITY CONTRACT:
  WithTx(fn) must execute fn against a view where the whole
  read-validate-write sequence is isolated from concurrent transfers
  touching the same accounts. Two transfers that both observe sufficient
  stock must not jointly overdraw a balance - the implementation
  serializes writers (mutex-guarded SQL transaction in sqlite, global
  lock in memory).

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - ledger/store: In-memory store for testing

SEE ALSO:
  - engine.go: The only caller of the mutation methods
*/
package ledger

import "context"

// =============================================================================
// STORE - Reads and mutations inside one transfer
// =============================================================================

// Store is the engine's view of persistence. Lookup methods return
// (nil, nil) when the record is absent; the engine maps absence to the
// typed not-found errors.
type Store interface {
	// GetAccount returns an account by ID.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// StockQuantity returns the on-hand quantity of a product for an
	// account (zero if the account holds none).
	StockQuantity(ctx context.Context, id AccountID, product string) (int64, error)

	// AdjustStock applies a delta to an account's balance for a product.
	// A balance that reaches exactly zero has its entry removed. The
	// engine validates availability first; implementations must still
	// refuse to store a negative quantity.
	AdjustStock(ctx context.Context, id AccountID, product string, delta int64) error

	// AddRewardPoints increments an account's reward total. Points only
	// ever increase; delta must be positive.
	AddRewardPoints(ctx context.Context, id AccountID, points int64) error

	// GetProduct resolves a catalog entry by its unique name.
	GetProduct(ctx context.Context, name string) (*Product, error)

	// AppendTransfer persists a transfer record. Append-only: there is no
	// update or delete. Fails if the idempotency key already exists.
	AppendTransfer(ctx context.Context, rec TransferRecord) error

	// GetTransferByKey returns the record previously accepted with the
	// given idempotency key, or nil.
	GetTransferByKey(ctx context.Context, idempotencyKey string) (*TransferRecord, error)
}

// =============================================================================
// TRANSACTIONAL STORE - The atomic unit of work
// =============================================================================

// TxStore wraps Store with transaction support. The engine runs the whole
// validate-mutate-commit sequence of one transfer inside a single WithTx
// call.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back and no partial state is persisted.
	WithTx(ctx context.Context, fn func(Store) error) error
}
