// Package postgres stores accounts and pending transactions in PostgreSQL.
// Inside a unit of work every lookup takes a row lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/clock"
	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/storage"
	"github.com/chungtau/ledger-payments/internal/storage/postgres/migrations"
)

type Store struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func New(pool *pgxpool.Pool, c clock.Clock) *Store {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Store{pool: pool, clock: c}
}

// Open connects to dsn, checks the connection and applies migrations.
func Open(ctx context.Context, dsn string, c clock.Clock) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return New(pool, c), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.pool.Query(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}

// lockClause returns FOR UPDATE inside a unit of work.
func lockClause(ctx context.Context) string {
	if txFromContext(ctx) != nil {
		return " FOR UPDATE"
	}
	return ""
}

const accountColumns = `ref, owner_client_id, currency, balance::text, created_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		acc      domain.Account
		currency string
		balance  string
	)
	if err := row.Scan(&acc.Ref, &acc.OwnerClientID, &currency, &balance, &acc.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parse balance of %s: %w", acc.Ref, err)
	}
	acc.Currency = domain.Currency(currency)
	acc.Balance = amount
	acc.CreatedAt = acc.CreatedAt.UTC()
	return acc, nil
}

func (s *Store) LookupAccount(ctx context.Context, ref string) (domain.Account, error) {
	row := s.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE ref = $1`+lockClause(ctx), ref)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, storage.AccountNotFound(ref)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("lookup account %s: %w", ref, err)
	}
	return acc, nil
}

func (s *Store) Debit(ctx context.Context, ref string, amount decimal.Decimal) error {
	if txFromContext(ctx) == nil {
		return domain.Unexpected("debit "+ref, storage.ErrNoUnitOfWork)
	}
	tag, err := s.exec(ctx,
		`UPDATE accounts SET balance = balance - $1 WHERE ref = $2 AND balance >= $1`,
		amount.String(), ref)
	if err != nil {
		return fmt.Errorf("debit account %s: %w", ref, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.LookupAccount(ctx, ref); err != nil {
		return err
	}
	return domain.NewError(domain.CodeInsufficientFunds, "account %s cannot cover %s", ref, amount)
}

func (s *Store) Credit(ctx context.Context, ref string, amount decimal.Decimal) error {
	if txFromContext(ctx) == nil {
		return domain.Unexpected("credit "+ref, storage.ErrNoUnitOfWork)
	}
	tag, err := s.exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE ref = $2`, amount.String(), ref)
	if err != nil {
		return fmt.Errorf("credit account %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.AccountNotFound(ref)
	}
	return nil
}

func (s *Store) PutPending(ctx context.Context, rec domain.PendingTransaction) error {
	const stmt = `
INSERT INTO pending_transactions (
	id, kind, owner_client_id, sender_account_ref, receiver_account_ref,
	payment_code, purpose, reference_number, receiver_name,
	amount, currency, state, failure_code, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.exec(ctx, stmt,
		rec.ID, string(rec.Kind), rec.OwnerClientID, rec.SenderAccountRef, rec.ReceiverAccountRef,
		rec.PaymentCode, rec.Purpose, rec.ReferenceNumber, rec.ReceiverName,
		rec.Amount.String(), string(rec.Currency), string(rec.State), string(rec.FailureCode),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending transaction %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetPending(ctx context.Context, id string) (domain.PendingTransaction, error) {
	query := `
SELECT id, kind, owner_client_id, sender_account_ref, receiver_account_ref,
       payment_code, purpose, reference_number, receiver_name,
       amount::text, currency, state, failure_code, created_at, updated_at
FROM pending_transactions
WHERE id = $1` + lockClause(ctx)

	var (
		rec                         domain.PendingTransaction
		kind, currency, state, code string
		amount                      string
		createdAt, updatedAt        time.Time
	)
	err := s.queryRow(ctx, query, id).Scan(
		&rec.ID, &kind, &rec.OwnerClientID, &rec.SenderAccountRef, &rec.ReceiverAccountRef,
		&rec.PaymentCode, &rec.Purpose, &rec.ReferenceNumber, &rec.ReceiverName,
		&amount, &currency, &state, &code, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
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
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	return rec, nil
}

func (s *Store) TransitionPending(ctx context.Context, id string, expected, next domain.State, failure domain.Code) (bool, error) {
	if !expected.CanTransition(next) {
		return false, nil
	}
	const stmt = `
UPDATE pending_transactions
SET state = $3, failure_code = $4, updated_at = $5
WHERE id = $1 AND state = $2`

	tag, err := s.exec(ctx, stmt, id, string(expected), string(next), string(failure), s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("transition pending transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
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
	_, err := s.exec(ctx,
		`INSERT INTO accounts (ref, owner_client_id, currency, balance, created_at) VALUES ($1, $2, $3, $4, $5)`,
		acc.Ref, acc.OwnerClientID, string(acc.Currency), acc.Balance.String(), acc.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", storage.ErrAccountExists, acc.Ref)
		}
		return fmt.Errorf("insert account %s: %w", acc.Ref, err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, owner string, page, pageSize int) ([]domain.Account, int, error) {
	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE owner_client_id = $1`, owner).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	offset, limit := storage.Page(page, pageSize)
	rows, err := s.query(ctx, `
SELECT `+accountColumns+`
FROM accounts
WHERE owner_client_id = $1
ORDER BY created_at, ref
LIMIT $2 OFFSET $3`, owner, limit, offset)
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
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
