/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore plus the directory queries the HTTP layer
  needs (accounts by phone, product listings, transfer history). The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The transfers table is append-only:
  - No UPDATE statements on transfers
  - No DELETE statements on transfers
  - idempotency_key is UNIQUE, so a replayed insert fails cleanly

KEY TABLES:
  accounts:       Directory records plus the monotonic reward total
  stock_balances: One row per (account, product) while quantity > 0
  products:       Catalog entries, name-unique
  transfers:      Immutable audit ledger of accepted transfers

CONCURRENCY:
  A sync.Mutex serializes writers around each WithTx unit, and all reads
  inside the unit go through the same *sql.Tx. Two concurrent transfers
  against the same account therefore never interleave their
  read-validate-write sequences. SQLite is opened in WAL mode so readers
  outside a transfer don't block.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.DefaultConfig())

SEE ALSO:
  - ledger/store.go: Interface definitions and the atomicity contract
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rythmn1111/coupon-collector/ledger"
)

// Store implements ledger.TxStore and the directory queries using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writers are serialized by the mutex anyway, and a
	// pooled ":memory:" database would otherwise be a database per conn.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (directory + reward total; never deleted)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL UNIQUE,
		email TEXT,
		tier TEXT NOT NULL,
		gst_number TEXT,
		aadhaar_number TEXT,
		pan_number TEXT,
		reward_points INTEGER NOT NULL DEFAULT 0 CHECK (reward_points >= 0),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_tier ON accounts(tier);

	-- Stock balances: a row exists only while quantity is positive
	CREATE TABLE IF NOT EXISTS stock_balances (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		PRIMARY KEY (account_id, product_name)
	);

	-- Products (name-unique catalog)
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		price TEXT NOT NULL,
		p1_reward INTEGER NOT NULL DEFAULT 0 CHECK (p1_reward >= 0),
		p2_reward INTEGER NOT NULL DEFAULT 0 CHECK (p2_reward >= 0),
		p3_reward INTEGER NOT NULL DEFAULT 0 CHECK (p3_reward >= 0),
		created_at TEXT NOT NULL
	);

	-- Transfers (append-only audit ledger)
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		source_id TEXT,
		destination_id TEXT NOT NULL,
		items_json TEXT NOT NULL,
		total_price TEXT NOT NULL,
		source_tier TEXT NOT NULL,
		destination_tier TEXT NOT NULL,
		reward_points INTEGER NOT NULL DEFAULT 0,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_source
		ON transfers(source_id) WHERE source_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transfers_destination
		ON transfers(destination_id);
	CREATE INDEX IF NOT EXISTS idx_transfers_created_at
		ON transfers(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx, so the same query
// code serves direct calls and transactional units.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, s.db, id)
}

func (s *Store) StockQuantity(ctx context.Context, id ledger.AccountID, product string) (int64, error) {
	return stockQuantity(ctx, s.db, id, product)
}

func (s *Store) AdjustStock(ctx context.Context, id ledger.AccountID, product string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustStock(ctx, s.db, id, product, delta)
}

func (s *Store) AddRewardPoints(ctx context.Context, id ledger.AccountID, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addRewardPoints(ctx, s.db, id, points)
}

func (s *Store) GetProduct(ctx context.Context, name string) (*ledger.Product, error) {
	return getProduct(ctx, s.db, name)
}

func (s *Store) AppendTransfer(ctx context.Context, rec ledger.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransfer(ctx, s.db, rec)
}

func (s *Store) GetTransferByKey(ctx context.Context, key string) (*ledger.TransferRecord, error) {
	return transferByKey(ctx, s.db, key)
}

// WithTx executes fn within a database transaction, serialized against
// other writers. All reads and writes inside fn see the same isolated
// view; an error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ledger.StorageError{Op: "begin", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &ledger.StorageError{Op: "commit", Err: err}
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) StockQuantity(ctx context.Context, id ledger.AccountID, product string) (int64, error) {
	return stockQuantity(ctx, ts.tx, id, product)
}

func (ts *txStore) AdjustStock(ctx context.Context, id ledger.AccountID, product string, delta int64) error {
	return adjustStock(ctx, ts.tx, id, product, delta)
}

func (ts *txStore) AddRewardPoints(ctx context.Context, id ledger.AccountID, points int64) error {
	return addRewardPoints(ctx, ts.tx, id, points)
}

func (ts *txStore) GetProduct(ctx context.Context, name string) (*ledger.Product, error) {
	return getProduct(ctx, ts.tx, name)
}

func (ts *txStore) AppendTransfer(ctx context.Context, rec ledger.TransferRecord) error {
	return appendTransfer(ctx, ts.tx, rec)
}

func (ts *txStore) GetTransferByKey(ctx context.Context, key string) (*ledger.TransferRecord, error) {
	return transferByKey(ctx, ts.tx, key)
}

// =============================================================================
// ACCOUNT OPERATIONS
// =============================================================================

func getAccount(ctx context.Context, q querier, id ledger.AccountID) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, phone_number, email, tier, gst_number, aadhaar_number,
		       pan_number, reward_points, created_at
		FROM accounts WHERE id = ?`, id)
	return scanAccountRow(row.Scan)
}

// GetAccountByPhone returns the account registered with a phone number,
// or nil. Used by onboarding checks and OTP login.
func (s *Store) GetAccountByPhone(ctx context.Context, phone string) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone_number, email, tier, gst_number, aadhaar_number,
		       pan_number, reward_points, created_at
		FROM accounts WHERE phone_number = ?`, phone)
	return scanAccountRow(row.Scan)
}

// CreateAccount inserts a new directory record. Phone numbers are unique.
func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, name, phone_number, email, tier, gst_number, aadhaar_number,
		 pan_number, reward_points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.PhoneNumber, a.Email, a.Tier,
		a.GSTNumber, a.AadhaarNumber, a.PANNumber,
		a.RewardPoints, a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateAccount
		}
		return &ledger.StorageError{Op: "create account", Err: err}
	}
	return nil
}

// ListAccounts returns all accounts, newest first.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone_number, email, tier, gst_number, aadhaar_number,
		       pan_number, reward_points, created_at
		FROM accounts ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccountRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// StockBalanceFor returns an account's full balance map.
func (s *Store) StockBalanceFor(ctx context.Context, id ledger.AccountID) (ledger.StockBalance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_name, quantity FROM stock_balances WHERE account_id = ?`, id)
	if err != nil {
		return nil, &ledger.StorageError{Op: "load stock balance", Err: err}
	}
	defer rows.Close()

	balance := make(ledger.StockBalance)
	for rows.Next() {
		var product string
		var qty int64
		if err := rows.Scan(&product, &qty); err != nil {
			return nil, &ledger.StorageError{Op: "scan stock balance", Err: err}
		}
		balance[product] = qty
	}
	return balance, rows.Err()
}

func stockQuantity(ctx context.Context, q querier, id ledger.AccountID, product string) (int64, error) {
	var qty int64
	err := q.QueryRowContext(ctx,
		`SELECT quantity FROM stock_balances WHERE account_id = ? AND product_name = ?`,
		id, product,
	).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &ledger.StorageError{Op: "read stock", Err: err}
	}
	return qty, nil
}

func adjustStock(ctx context.Context, q querier, id ledger.AccountID, product string, delta int64) error {
	current, err := stockQuantity(ctx, q, id, product)
	if err != nil {
		return err
	}
	next := current + delta
	if next < 0 {
		return &ledger.StorageError{Op: "adjust stock",
			Err: fmt.Errorf("quantity for %s would go negative (%d)", product, next)}
	}

	switch {
	case next == 0:
		_, err = q.ExecContext(ctx,
			`DELETE FROM stock_balances WHERE account_id = ? AND product_name = ?`,
			id, product)
	case current == 0:
		_, err = q.ExecContext(ctx,
			`INSERT INTO stock_balances (account_id, product_name, quantity) VALUES (?, ?, ?)`,
			id, product, next)
	default:
		_, err = q.ExecContext(ctx,
			`UPDATE stock_balances SET quantity = ? WHERE account_id = ? AND product_name = ?`,
			next, id, product)
	}
	if err != nil {
		return &ledger.StorageError{Op: "adjust stock", Err: err}
	}
	return nil
}

func addRewardPoints(ctx context.Context, q querier, id ledger.AccountID, points int64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE accounts SET reward_points = reward_points + ? WHERE id = ?`,
		points, id)
	if err != nil {
		return &ledger.StorageError{Op: "add reward points", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &ledger.StorageError{Op: "add reward points", Err: err}
	}
	if affected == 0 {
		return &ledger.AccountNotFoundError{AccountID: id}
	}
	return nil
}

func scanAccountRow(scan func(dest ...any) error) (*ledger.Account, error) {
	var (
		a         ledger.Account
		email     sql.NullString
		gst       sql.NullString
		aadhaar   sql.NullString
		pan       sql.NullString
		createdAt string
	)
	err := scan(&a.ID, &a.Name, &a.PhoneNumber, &email, &a.Tier,
		&gst, &aadhaar, &pan, &a.RewardPoints, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "scan account", Err: err}
	}
	a.Email = email.String
	a.GSTNumber = gst.String
	a.AadhaarNumber = aadhaar.String
	a.PANNumber = pan.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// =============================================================================
// PRODUCT OPERATIONS
// =============================================================================

func getProduct(ctx context.Context, q querier, name string) (*ledger.Product, error) {
	var (
		p         ledger.Product
		price     string
		createdAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, price, p1_reward, p2_reward, p3_reward, created_at
		FROM products WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &price, &p.Rewards.P1, &p.Rewards.P2, &p.Rewards.P3, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "get product", Err: err}
	}
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, &ledger.StorageError{Op: "parse price", Err: err}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// CreateProduct inserts a catalog entry. Names are unique.
func (s *Store) CreateProduct(ctx context.Context, p ledger.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, p1_reward, p2_reward, p3_reward, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Price.String(),
		p.Rewards.P1, p.Rewards.P2, p.Rewards.P3,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateProduct
		}
		return &ledger.StorageError{Op: "create product", Err: err}
	}
	return nil
}

// ListProducts returns all catalog entries, alphabetically.
func (s *Store) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, p1_reward, p2_reward, p3_reward, created_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list products", Err: err}
	}
	defer rows.Close()

	var products []ledger.Product
	for rows.Next() {
		var (
			p         ledger.Product
			price     string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price,
			&p.Rewards.P1, &p.Rewards.P2, &p.Rewards.P3, &createdAt); err != nil {
			return nil, &ledger.StorageError{Op: "scan product", Err: err}
		}
		p.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, &ledger.StorageError{Op: "parse price", Err: err}
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// TRANSFER OPERATIONS (append-only)
// =============================================================================

func appendTransfer(ctx context.Context, q querier, rec ledger.TransferRecord) error {
	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return &ledger.StorageError{Op: "encode items", Err: err}
	}

	var sourceID any
	if rec.SourceID != nil {
		sourceID = string(*rec.SourceID)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO transfers
		(id, source_id, destination_id, items_json, total_price, source_tier,
		 destination_tier, reward_points, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, sourceID, rec.DestinationID, string(itemsJSON),
		rec.TotalPrice.String(), rec.SourceTier, rec.DestinationTier,
		rec.RewardPoints, nullString(rec.IdempotencyKey),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTransfer
		}
		return &ledger.StorageError{Op: "append transfer", Err: err}
	}
	return nil
}

const transferSelect = `
	SELECT id, source_id, destination_id, items_json, total_price,
	       source_tier, destination_tier, reward_points, idempotency_key, created_at
	FROM transfers`

func transferByKey(ctx context.Context, q querier, key string) (*ledger.TransferRecord, error) {
	rows, err := q.QueryContext(ctx, transferSelect+` WHERE idempotency_key = ?`, key)
	if err != nil {
		return nil, &ledger.StorageError{Op: "lookup transfer", Err: err}
	}
	defer rows.Close()
	return firstTransfer(rows)
}

// GetTransfer returns a transfer record by ID, or nil.
func (s *Store) GetTransfer(ctx context.Context, id ledger.TransferID) (*ledger.TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, transferSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, &ledger.StorageError{Op: "get transfer", Err: err}
	}
	defer rows.Close()
	return firstTransfer(rows)
}

// ListTransfers returns the most recent transfers, newest first.
func (s *Store) ListTransfers(ctx context.Context, limit int) ([]ledger.TransferRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		transferSelect+` ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list transfers", Err: err}
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// ListTransfersForAccount returns all transfers where the account is
// either party, newest first.
func (s *Store) ListTransfersForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		transferSelect+` WHERE source_id = ? OR destination_id = ?
		 ORDER BY created_at DESC, id`, id, id)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list transfers", Err: err}
	}
	defer rows.Close()
	return scanTransfers(rows)
}

func firstTransfer(rows *sql.Rows) (*ledger.TransferRecord, error) {
	recs, err := scanTransfers(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func scanTransfers(rows *sql.Rows) ([]ledger.TransferRecord, error) {
	var records []ledger.TransferRecord
	for rows.Next() {
		var (
			rec       ledger.TransferRecord
			sourceID  sql.NullString
			itemsJSON string
			total     string
			idemKey   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &sourceID, &rec.DestinationID, &itemsJSON,
			&total, &rec.SourceTier, &rec.DestinationTier, &rec.RewardPoints,
			&idemKey, &createdAt); err != nil {
			return nil, &ledger.StorageError{Op: "scan transfer", Err: err}
		}

		if sourceID.Valid {
			id := ledger.AccountID(sourceID.String)
			rec.SourceID = &id
		}
		if err := json.Unmarshal([]byte(itemsJSON), &rec.Items); err != nil {
			return nil, &ledger.StorageError{Op: "decode items", Err: err}
		}
		var err error
		rec.TotalPrice, err = decimal.NewFromString(total)
		if err != nil {
			return nil, &ledger.StorageError{Op: "parse total", Err: err}
		}
		rec.IdempotencyKey = idemKey.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transfers", "stock_balances", "products", "accounts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &ledger.StorageError{Op: "reset", Err: err}
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
