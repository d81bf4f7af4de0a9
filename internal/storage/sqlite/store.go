// Package sqlite provides a SQLite-backed ledger and pending transaction store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/chungtau/ledger-payments/internal/clock"
	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/storage"
	"github.com/chungtau/ledger-payments/internal/storage/sqlite/migrations"
)

// Store persists accounts and pending transactions in SQLite. It uses a single
// connection, so units of work never interleave.
type Store struct {
	sqlDB *sql.DB
	clock clock.Clock
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies the embedded schema.
func Open(path string, c clock.Clock) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if c == nil {
		c = clock.NewSystem()
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applySchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: c}, nil
}

func applySchema(sqlDB *sql.DB) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := sqlDB.Exec(string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// q returns the unit of work transaction when ctx carries one.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return s.sqlDB
}

// WithTx runs fn in one transaction. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const accountColumns = `ref, owner_client_id, currency, balance, created_at`

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var (
		acc       domain.Account
		currency  string
		balance   string
		createdAt int64
	)
	if err := row.Scan(&acc.Ref, &acc.OwnerClientID, &currency, &balance, &createdAt); err != nil {
		return domain.Account{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parse balance of %s: %w", acc.Ref, err)
	}
	acc.Currency = domain.Currency(currency)
	acc.Balance = amount
	acc.CreatedAt = fromMillis(createdAt)
	return acc, nil
}

func (s *Store) LookupAccount(ctx context.Context, ref string) (domain.Account, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE ref = ?`, ref)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, storage.AccountNotFound(ref)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("lookup account %s: %w", ref, err)
	}
	return acc, nil
}

func (s *Store) Debit(ctx context.Context, ref string, amount decimal.Decimal) error {
	return s.adjust(ctx, "debit", ref, amount.Neg())
}

func (s *Store) Credit(ctx context.Context, ref string, amount decimal.Decimal) error {
	return s.adjust(ctx, "credit", ref, amount)
}

// adjust applies delta to a balance. Decimals are stored as text, so the
// arithmetic happens here under the single writer connection.
func (s *Store) adjust(ctx context.Context, op, ref string, delta decimal.Decimal) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return domain.Unexpected(op+" "+ref, storage.ErrNoUnitOfWork)
	}
	acc, err := s.LookupAccount(ctx, ref)
	if err != nil {
		return err
	}
	next := acc.Balance.Add(delta)
	if next.IsNegative() {
		return domain.NewError(domain.CodeInsufficientFunds, "account %s cannot cover %s", ref, delta.Neg())
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE ref = ?`, next.String(), ref); err != nil {
		return fmt.Errorf("%s account %s: %w", op, ref, err)
	}
	return nil
}

func (s *Store) PutPending(ctx context.Context, rec domain.PendingTransaction) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO pending_transactions (
		  id, kind, owner_client_id, sender_account_ref, receiver_account_ref,
		  payment_code, purpose, reference_number, receiver_name,
		  amount, currency, state, failure_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.OwnerClientID, rec.SenderAccountRef, rec.ReceiverAccountRef,
		rec.PaymentCode, rec.Purpose, rec.ReferenceNumber, rec.ReceiverName,
		rec.Amount.String(), string(rec.Currency), string(rec.State), string(rec.FailureCode),
		toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert pending transaction %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetPending(ctx context.Context, id string) (domain.PendingTransaction, error) {
	var (
		rec                         domain.PendingTransaction
		kind, currency, state, code string
		amount                      string
		createdAt, updatedAt        int64
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, kind, owner_client_id, sender_account_ref, receiver_account_ref,
		       payment_code, purpose, reference_number, receiver_name,
		       amount, currency, state, failure_code, created_at, updated_at
		FROM pending_transactions WHERE id = ?`, id,
	).Scan(
		&rec.ID, &kind, &rec.OwnerClientID, &rec.SenderAccountRef, &rec.ReceiverAccountRef,
		&rec.PaymentCode, &rec.Purpose, &rec.ReferenceNumber, &rec.ReceiverName,
		&amount, &currency, &state, &code, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingTransaction{}, storage.PendingNotFound(id)
	}
	if err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("get pending transaction %s: %w", id, err)
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("parse amount of %s: %w", id, err)
	}
	rec.Kind = domain.Kind(kind)
	rec.Currency = domain.Currency(currency)
	rec.State = domain.State(state)
	rec.FailureCode = domain.Code(code)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func (s *Store) TransitionPending(ctx context.Context, id string, expected, next domain.State, failure domain.Code) (bool, error) {
	if !expected.CanTransition(next) {
		return false, nil
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE pending_transactions
		SET state = ?, failure_code = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(next), string(failure), toMillis(s.clock.Now()), id, string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("transition pending transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition pending transaction %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetPending(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) CreateAccount(ctx context.Context, acc domain.Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = s.clock.Now()
	}
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?)`,
		acc.Ref, acc.OwnerClientID, string(acc.Currency), acc.Balance.String(), toMillis(acc.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", storage.ErrAccountExists, acc.Ref)
	}
	if err != nil {
		return fmt.Errorf("insert account %s: %w", acc.Ref, err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, owner string, page, pageSize int) ([]domain.Account, int, error) {
	var total int
	if err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE owner_client_id = ?`, owner,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	offset, limit := storage.Page(page, pageSize)
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_client_id = ?
		ORDER BY created_at, ref
		LIMIT ? OFFSET ?`, owner, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0, limit)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, total, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
