// Package memory is an in-process ledger and pending transaction store for
// development mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/clock"
	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/storage"
)

// Store keeps everything in maps. A unit of work holds the write lock until it
// finishes, so confirmations are serialised.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	pending  map[string]domain.PendingTransaction
	clock    clock.Clock
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithAccounts seeds the ledger.
func WithAccounts(accounts ...domain.Account) Option {
	return func(s *Store) {
		for _, acc := range accounts {
			s.accounts[acc.Ref] = acc
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[string]domain.Account),
		pending:  make(map[string]domain.PendingTransaction),
		clock:    clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DemoAccounts returns the accounts seeded in development mode for owner.
func DemoAccounts(owner string) []domain.Account {
	return []domain.Account{
		{Ref: "11111111-1111-1111-1111-111111111111", OwnerClientID: owner, Currency: domain.RSD, Balance: decimal.RequireFromString("100000.00")},
		{Ref: "22222222-2222-2222-2222-222222222222", OwnerClientID: owner, Currency: domain.RSD, Balance: decimal.RequireFromString("5000.00")},
		{Ref: "33333333-3333-3333-3333-333333333333", OwnerClientID: owner, Currency: domain.EUR, Balance: decimal.RequireFromString("2500.00")},
	}
}

type txKey struct{}

// tx stages writes made inside WithTx.
type tx struct {
	accounts map[string]domain.Account
	pending  map[string]domain.PendingTransaction
}

func txFromContext(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok
}

// WithTx runs fn holding the store lock and applies staged writes only when fn
// returns nil. Nested calls join the outer unit of work.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		accounts: make(map[string]domain.Account),
		pending:  make(map[string]domain.PendingTransaction),
	}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for ref, acc := range t.accounts {
		s.accounts[ref] = acc
	}
	for id, rec := range t.pending {
		s.pending[id] = rec
	}
	return nil
}

// read runs fn either on the unit of work view or under the read lock.
func (s *Store) read(ctx context.Context, fn func(view) error) error {
	if t, ok := txFromContext(ctx); ok {
		return fn(view{s: s, t: t})
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{s: s})
}

// write runs fn on the unit of work view, or under the write lock applying directly.
func (s *Store) write(ctx context.Context, fn func(view) error) error {
	if t, ok := txFromContext(ctx); ok {
		return fn(view{s: s, t: t})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(view{s: s})
}

type view struct {
	s *Store
	t *tx
}

func (v view) account(ref string) (domain.Account, bool) {
	if v.t != nil {
		if acc, ok := v.t.accounts[ref]; ok {
			return acc, true
		}
	}
	acc, ok := v.s.accounts[ref]
	return acc, ok
}

func (v view) putAccount(acc domain.Account) {
	if v.t != nil {
		v.t.accounts[acc.Ref] = acc
		return
	}
	v.s.accounts[acc.Ref] = acc
}

func (v view) record(id string) (domain.PendingTransaction, bool) {
	if v.t != nil {
		if rec, ok := v.t.pending[id]; ok {
			return rec, true
		}
	}
	rec, ok := v.s.pending[id]
	return rec, ok
}

func (v view) putRecord(rec domain.PendingTransaction) {
	if v.t != nil {
		v.t.pending[rec.ID] = rec
		return
	}
	v.s.pending[rec.ID] = rec
}

func (s *Store) LookupAccount(ctx context.Context, ref string) (domain.Account, error) {
	var acc domain.Account
	err := s.read(ctx, func(v view) error {
		found, ok := v.account(ref)
		if !ok {
			return storage.AccountNotFound(ref)
		}
		acc = found
		return nil
	})
	return acc, err
}

func (s *Store) Debit(ctx context.Context, ref string, amount decimal.Decimal) error {
	if _, ok := txFromContext(ctx); !ok {
		return domain.Unexpected("debit "+ref, storage.ErrNoUnitOfWork)
	}
	return s.write(ctx, func(v view) error {
		acc, ok := v.account(ref)
		if !ok {
			return storage.AccountNotFound(ref)
		}
		if !acc.Covers(amount) {
			return domain.NewError(domain.CodeInsufficientFunds, "account %s cannot cover %s", ref, amount)
		}
		acc.Balance = acc.Balance.Sub(amount)
		v.putAccount(acc)
		return nil
	})
}

func (s *Store) Credit(ctx context.Context, ref string, amount decimal.Decimal) error {
	if _, ok := txFromContext(ctx); !ok {
		return domain.Unexpected("credit "+ref, storage.ErrNoUnitOfWork)
	}
	return s.write(ctx, func(v view) error {
		acc, ok := v.account(ref)
		if !ok {
			return storage.AccountNotFound(ref)
		}
		acc.Balance = acc.Balance.Add(amount)
		v.putAccount(acc)
		return nil
	})
}

func (s *Store) PutPending(ctx context.Context, rec domain.PendingTransaction) error {
	return s.write(ctx, func(v view) error {
		if _, ok := v.record(rec.ID); ok {
			return fmt.Errorf("pending transaction %s already stored", rec.ID)
		}
		v.putRecord(rec)
		return nil
	})
}

func (s *Store) GetPending(ctx context.Context, id string) (domain.PendingTransaction, error) {
	var rec domain.PendingTransaction
	err := s.read(ctx, func(v view) error {
		found, ok := v.record(id)
		if !ok {
			return storage.PendingNotFound(id)
		}
		rec = found
		return nil
	})
	return rec, err
}

func (s *Store) TransitionPending(ctx context.Context, id string, expected, next domain.State, failure domain.Code) (bool, error) {
	var moved bool
	err := s.write(ctx, func(v view) error {
		rec, ok := v.record(id)
		if !ok {
			return storage.PendingNotFound(id)
		}
		if rec.State != expected || !expected.CanTransition(next) {
			return nil
		}
		rec.State = next
		rec.FailureCode = failure
		rec.UpdatedAt = s.clock.Now()
		v.putRecord(rec)
		moved = true
		return nil
	})
	return moved, err
}

func (s *Store) CreateAccount(ctx context.Context, acc domain.Account) error {
	return s.write(ctx, func(v view) error {
		if _, ok := v.account(acc.Ref); ok {
			return fmt.Errorf("%w: %s", storage.ErrAccountExists, acc.Ref)
		}
		if acc.CreatedAt.IsZero() {
			acc.CreatedAt = s.clock.Now()
		}
		v.putAccount(acc)
		return nil
	})
}

// ListAccounts pages through owner's accounts ordered by creation time, then ref.
func (s *Store) ListAccounts(ctx context.Context, owner string, page, pageSize int) ([]domain.Account, int, error) {
	var owned []domain.Account
	err := s.read(ctx, func(v view) error {
		for ref := range v.s.accounts {
			if acc, _ := v.account(ref); acc.OwnerClientID == owner {
				owned = append(owned, acc)
			}
		}
		if v.t != nil {
			for ref, acc := range v.t.accounts {
				if _, ok := v.s.accounts[ref]; !ok && acc.OwnerClientID == owner {
					owned = append(owned, acc)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.Before(owned[j].CreatedAt)
		}
		return owned[i].Ref < owned[j].Ref
	})

	offset, limit := storage.Page(page, pageSize)
	total := len(owned)
	if offset >= total {
		return []domain.Account{}, total, nil
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	return owned[offset:end], total, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}
