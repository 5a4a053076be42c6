// Package sqlite implements the store ports on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

const driverName = "sqlite"

// timeLayout is fixed-width so stored instants sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close(context.Context) error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Begin implements store.UnitOfWork.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &tx{tx: sqlTx, now: s.now}, nil
}

// Templates

const templateColumns = `id, user_id, title, source, category, type, amount_cents, frequency,
	start_date, last_generated_date, is_active, created_at`

func (s *Store) CreateTemplate(ctx context.Context, t core.RecurringTemplate) error {
	var last sql.NullString
	if t.LastGeneratedDate != nil {
		last = sql.NullString{String: formatTime(*t.LastGeneratedDate), Valid: true}
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Source, t.Category, string(t.Type), t.Amount.Cents,
		string(t.Frequency), formatTime(t.StartDate), last, t.IsActive, formatTime(created))
	if err != nil {
		return fmt.Errorf("insert template %s: %w", t.ID, mapError(err))
	}
	slog.InfoContext(ctx, "Template saved to SQLite", "template_id", t.ID, "frequency", t.Frequency)
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (core.RecurringTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("get template %s: %w", id, mapError(err))
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID string) ([]core.RecurringTemplate, error) {
	return s.queryTemplates(ctx, `SELECT `+templateColumns+` FROM templates WHERE user_id = ? ORDER BY id`, userID)
}

func (s *Store) ListActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	return s.queryTemplates(ctx, `SELECT `+templateColumns+` FROM templates WHERE is_active = 1 ORDER BY id`)
}

func (s *Store) queryTemplates(ctx context.Context, query string, args ...any) ([]core.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Transactions

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ? AND date >= ? AND date < ? ORDER BY date, id`,
		userID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Budgets

const budgetColumns = `id, user_id, category, month, limit_cents, current_spend_cents, updated_at`

func (s *Store) CreateBudget(ctx context.Context, b core.Budget) error {
	updated := b.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO budgets (`+budgetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Category, b.Month, b.Limit.Cents, b.CurrentSpend.Cents, formatTime(updated))
	if err != nil {
		return fmt.Errorf("insert budget %s/%s: %w", b.Category, b.Month, mapError(err))
	}
	return nil
}

func (s *Store) GetBudget(ctx context.Context, userID, category, month string) (core.Budget, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets
		WHERE user_id = ? AND category = ? AND month = ?`, userID, category, month)
	b, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %s/%s: %w", category, month, mapError(err))
	}
	return b, nil
}

func (s *Store) ListBudgets(ctx context.Context, userID, month string) ([]core.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = ?`
	args := []any{userID}
	if month != "" {
		query += ` AND month = ?`
		args = append(args, month)
	}
	query += ` ORDER BY month, category`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// IncrementSpend implements store.BudgetStore as a single clamped UPDATE. With
// an applyKey the key row and the UPDATE share one SQL transaction.
func (s *Store) IncrementSpend(ctx context.Context, userID, category, month string, delta core.Money, applyKey string) (core.Budget, bool, error) {
	if applyKey == "" {
		return incrementSpend(ctx, s.db, userID, category, month, delta, s.now())
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Budget{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	var budgetID string
	err = sqlTx.QueryRowContext(ctx, `SELECT id FROM budgets
		WHERE user_id = ? AND category = ? AND month = ?`, userID, category, month).Scan(&budgetID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, false, nil
	}
	if err != nil {
		return core.Budget{}, false, fmt.Errorf("find budget %s/%s: %w", category, month, err)
	}

	res, err := sqlTx.ExecContext(ctx, `INSERT OR IGNORE INTO applied_adjustments (key, budget_id, applied_at)
		VALUES (?, ?, ?)`, applyKey, budgetID, formatTime(s.now()))
	if err != nil {
		return core.Budget{}, false, fmt.Errorf("record adjustment %s: %w", applyKey, err)
	}
	var b core.Budget
	if n, _ := res.RowsAffected(); n == 0 {
		b, err = scanBudget(sqlTx.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, budgetID))
		if err != nil {
			return core.Budget{}, false, fmt.Errorf("get budget %s/%s: %w", category, month, err)
		}
	} else {
		var found bool
		b, found, err = incrementSpend(ctx, sqlTx, userID, category, month, delta, s.now())
		if err != nil || !found {
			return b, found, err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return core.Budget{}, false, fmt.Errorf("commit: %w", err)
	}
	return b, true, nil
}

func incrementSpend(ctx context.Context, q querier, userID, category, month string, delta core.Money, now time.Time) (core.Budget, bool, error) {
	row := q.QueryRowContext(ctx, `UPDATE budgets
		SET current_spend_cents = MAX(0, current_spend_cents + ?), updated_at = ?
		WHERE user_id = ? AND category = ? AND month = ?
		RETURNING `+budgetColumns,
		delta.Cents, formatTime(now), userID, category, month)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, false, nil
	}
	if err != nil {
		return core.Budget{}, false, fmt.Errorf("increment budget %s/%s: %w", category, month, err)
	}
	return b, true, nil
}

// Outbox

func (s *Store) DequeueChanges(ctx context.Context, limit int) ([]core.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload, attempts, last_error, created_at
		FROM change_outbox WHERE status = 'pending' ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []core.OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkChangeDone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE change_outbox SET status = 'done' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark change done: %w", err)
	}
	return expectOne(res, "outbox entry", id)
}

func (s *Store) MarkChangeFailed(ctx context.Context, id string, cause error, maxAttempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE change_outbox
		SET attempts = attempts + 1,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN 'parked' ELSE 'pending' END
		WHERE id = ?`, msg, maxAttempts, id)
	if err != nil {
		return fmt.Errorf("mark change failed: %w", err)
	}
	if err := expectOne(res, "outbox entry", id); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Outbox entry failed", "outbox_id", id, "error", msg)
	return nil
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		}
	}
	return err
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
