/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the five tables of the points engine: accounts (mutable cache),
  point_transactions (append-only), purchases, purchase_line_items
  (snapshots), and audit_entries (append-only). The same patterns apply to
  PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements exist for point_transactions
  - No UPDATE or DELETE statements exist for audit_entries
  - purchases only ever has its status column updated
  Corrections happen via compensating transactions (refunds), never edits.

CONCURRENCY:
  SQLite has no row locks, so exclusive per-account serialization lives in
  ledger.LockTable, above this layer. Here a single mutex serializes
  writers (SQLite allows one writer at a time anyway); WAL mode keeps
  readers unblocked.

TIME AND MONEY REPRESENTATION:
  Timestamps are RFC3339 TEXT; ledger and audit rows carry a fixed-width
  nanosecond fraction so lexical comparison matches time order. The decimal
  point_value is stored as TEXT and parsed with shopspring/decimal - REAL
  would reintroduce the floating-point drift the decimal type exists to
  avoid.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

USAGE:
  store, err := sqlite.New("./data/rewards.db")  // or ":memory:"
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - ledger/store.go:       Interface definitions
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/rewards-engine/ledger"
)

// timeLayoutNano is RFC3339 with a fixed-width fraction. RFC3339Nano trims
// trailing zeros, which breaks lexical ordering of TEXT timestamps (a
// whole second sorts after its own fractional instants); zero-padding
// keeps string order equal to time order.
const timeLayoutNano = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore over SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex // single writer; readers go through WAL
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries every ledger.Store method, bound either to the database
// (plain reads) or to an open transaction (inside WithTx).
type conn struct {
	db dbtx
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection to :memory: would open its own empty
		// database; pin the pool to one connection.
		db.SetMaxOpenConns(1)
	}

	s := &Store{conn: conn{db: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts (cached balance per driver+sponsor)
	CREATE TABLE IF NOT EXISTS accounts (
		driver_id TEXT NOT NULL,
		sponsor_id TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		milestone_level INTEGER NOT NULL DEFAULT 0,
		point_value TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		PRIMARY KEY (driver_id, sponsor_id)
	);

	-- Point transactions (append-only ledger; source of truth for balance)
	CREATE TABLE IF NOT EXISTS point_transactions (
		transaction_id TEXT PRIMARY KEY,
		sponsor_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		points_changed INTEGER NOT NULL,
		reason TEXT,
		action_type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_point_transactions_account
		ON point_transactions(sponsor_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_point_transactions_sponsor
		ON point_transactions(sponsor_id);

	-- Purchases (status is the only mutable column)
	CREATE TABLE IF NOT EXISTS purchases (
		purchase_id TEXT PRIMARY KEY,
		sponsor_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		total_points_spent INTEGER NOT NULL,
		purchase_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ordered'
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_account
		ON purchases(sponsor_id, user_id);

	-- Line item snapshots, decoupled from live product records
	CREATE TABLE IF NOT EXISTS purchase_line_items (
		purchase_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		purchased_unit_price INTEGER NOT NULL,
		points_spent INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (purchase_id, product_id)
	);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		log_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		action TEXT NOT NULL,
		success INTEGER NOT NULL,
		details_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_user
		ON audit_entries(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_created
		ON audit_entries(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION SUPPORT (ledger.TxStore)
// =============================================================================

// WithTx runs fn against a transaction-bound store view. fn error rolls
// everything back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrTransient, err)
	}
	defer tx.Rollback()

	if err := fn(&conn{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit failed: %v", ledger.ErrTransient, err)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (c *conn) CreateAccount(ctx context.Context, acct ledger.Account) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO accounts (driver_id, sponsor_id, points, milestone_level, point_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		acct.DriverID, acct.SponsorID, acct.Points, acct.MilestoneLevel,
		acct.PointValue.String(), acct.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (c *conn) GetAccount(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (*ledger.Account, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT driver_id, sponsor_id, points, milestone_level, point_value, created_at
		FROM accounts WHERE sponsor_id = ? AND driver_id = ?`,
		sponsorID, driverID)
	return scanAccount(row)
}

func (c *conn) UpdateAccount(ctx context.Context, acct *ledger.Account) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE accounts SET points = ?, milestone_level = ?
		WHERE sponsor_id = ? AND driver_id = ?`,
		acct.Points, acct.MilestoneLevel, acct.SponsorID, acct.DriverID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (c *conn) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT driver_id, sponsor_id, points, milestone_level, point_value, created_at
		FROM accounts ORDER BY sponsor_id, driver_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var acct ledger.Account
	var pointValue, createdAt string
	err := row.Scan(&acct.DriverID, &acct.SponsorID, &acct.Points, &acct.MilestoneLevel, &pointValue, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	if acct.PointValue, err = decimal.NewFromString(pointValue); err != nil {
		return nil, fmt.Errorf("bad point_value %q: %w", pointValue, err)
	}
	acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &acct, nil
}

// =============================================================================
// POINT TRANSACTIONS (append-only)
// =============================================================================

func (c *conn) AppendTransaction(ctx context.Context, tx ledger.PointTransaction) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO point_transactions
		(transaction_id, sponsor_id, user_id, points_changed, reason, action_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.SponsorID, tx.DriverID, tx.PointsChanged, tx.Reason,
		tx.ActionType, tx.CreatedAt.UTC().Format(timeLayoutNano))
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (c *conn) Transactions(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) ([]ledger.PointTransaction, error) {
	return c.queryTransactions(ctx, `
		SELECT transaction_id, sponsor_id, user_id, points_changed, reason, action_type, created_at
		FROM point_transactions
		WHERE sponsor_id = ? AND user_id = ?
		ORDER BY created_at ASC`,
		sponsorID, driverID)
}

func (c *conn) TransactionsForSponsor(ctx context.Context, sponsorID ledger.SponsorID) ([]ledger.PointTransaction, error) {
	return c.queryTransactions(ctx, `
		SELECT transaction_id, sponsor_id, user_id, points_changed, reason, action_type, created_at
		FROM point_transactions
		WHERE sponsor_id = ?
		ORDER BY created_at ASC`,
		sponsorID)
}

func (c *conn) SumPointsChanged(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (int64, error) {
	var sum int64
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points_changed), 0) FROM point_transactions
		WHERE sponsor_id = ? AND user_id = ?`,
		sponsorID, driverID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

func (c *conn) SumCredits(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (int64, error) {
	var sum int64
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points_changed), 0) FROM point_transactions
		WHERE sponsor_id = ? AND user_id = ? AND points_changed > 0`,
		sponsorID, driverID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum credits: %w", err)
	}
	return sum, nil
}

func (c *conn) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.PointTransaction, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.PointTransaction
	for rows.Next() {
		var tx ledger.PointTransaction
		var createdAt string
		if err := rows.Scan(&tx.ID, &tx.SponsorID, &tx.DriverID, &tx.PointsChanged,
			&tx.Reason, &tx.ActionType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// PURCHASES
// =============================================================================

func (c *conn) InsertPurchase(ctx context.Context, p ledger.Purchase, items []ledger.PurchaseLineItem) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO purchases (purchase_id, sponsor_id, user_id, total_points_spent, purchase_date, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SponsorID, p.DriverID, p.TotalPointsSpent,
		p.PurchaseDate.UTC().Format(time.RFC3339), p.Status)
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	for _, item := range items {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO purchase_line_items (purchase_id, product_id, purchased_unit_price, points_spent, quantity)
			VALUES (?, ?, ?, ?, ?)`,
			item.PurchaseID, item.ProductID, item.PurchasedUnitPrice, item.PointsSpent, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return nil
}

func (c *conn) GetPurchase(ctx context.Context, purchaseID ledger.PurchaseID, driverID ledger.DriverID) (*ledger.Purchase, error) {
	var p ledger.Purchase
	var purchaseDate string
	err := c.db.QueryRowContext(ctx, `
		SELECT purchase_id, sponsor_id, user_id, total_points_spent, purchase_date, status
		FROM purchases WHERE purchase_id = ? AND user_id = ?`,
		purchaseID, driverID).
		Scan(&p.ID, &p.SponsorID, &p.DriverID, &p.TotalPointsSpent, &purchaseDate, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	p.PurchaseDate, _ = time.Parse(time.RFC3339, purchaseDate)
	return &p, nil
}

func (c *conn) UpdatePurchaseStatus(ctx context.Context, purchaseID ledger.PurchaseID, status ledger.PurchaseStatus) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE purchases SET status = ? WHERE purchase_id = ?`, status, purchaseID)
	if err != nil {
		return fmt.Errorf("failed to update purchase status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (c *conn) LineItems(ctx context.Context, purchaseID ledger.PurchaseID) ([]ledger.PurchaseLineItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT purchase_id, product_id, purchased_unit_price, points_spent, quantity
		FROM purchase_line_items WHERE purchase_id = ?`,
		purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []ledger.PurchaseLineItem
	for rows.Next() {
		var item ledger.PurchaseLineItem
		if err := rows.Scan(&item.PurchaseID, &item.ProductID, &item.PurchasedUnitPrice,
			&item.PointsSpent, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (c *conn) ListPurchases(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) ([]ledger.Purchase, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT purchase_id, sponsor_id, user_id, total_points_spent, purchase_date, status
		FROM purchases
		WHERE sponsor_id = ? AND user_id = ?
		ORDER BY purchase_date DESC`,
		sponsorID, driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []ledger.Purchase
	for rows.Next() {
		var p ledger.Purchase
		var purchaseDate string
		if err := rows.Scan(&p.ID, &p.SponsorID, &p.DriverID, &p.TotalPointsSpent, &purchaseDate, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		p.PurchaseDate, _ = time.Parse(time.RFC3339, purchaseDate)
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// =============================================================================
// AUDIT TRAIL (append-only)
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO audit_entries (log_id, user_id, category, action, success, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.LogID, entry.DriverID, entry.Category, entry.Action,
		boolToInt(entry.ActionSuccess), string(detailsJSON),
		entry.CreatedAt.UTC().Format(timeLayoutNano))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (c *conn) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := `
		SELECT log_id, user_id, category, action, success, details_json, created_at
		FROM audit_entries WHERE 1=1`
	var args []any
	if filter.DriverID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.DriverID)
	}
	if filter.Category != nil {
		query += " AND category = ?"
		args = append(args, *filter.Category)
	}
	if filter.From != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.From.UTC().Format(timeLayoutNano))
	}
	if filter.To != nil {
		query += " AND created_at <= ?"
		args = append(args, filter.To.UTC().Format(timeLayoutNano))
	}
	query += " ORDER BY created_at DESC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var e ledger.AuditEntry
		var success int
		var detailsJSON, createdAt string
		if err := rows.Scan(&e.LogID, &e.DriverID, &e.Category, &e.Action, &success, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ActionSuccess = success != 0
		if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
			return nil, fmt.Errorf("bad audit details: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if filter.SponsorID != nil && e.Details.SponsorID != *filter.SponsorID {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Compile-time interface checks.
var (
	_ ledger.Store   = (*Store)(nil)
	_ ledger.TxStore = (*Store)(nil)
)
