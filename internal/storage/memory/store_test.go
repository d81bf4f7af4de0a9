package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chungtau/ledger-payments/internal/clock"
	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/storage"
	"github.com/chungtau/ledger-payments/internal/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(
		WithClock(clock.NewFixed(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))),
		WithAccounts(
			domain.Account{Ref: "A", OwnerClientID: "c1", Currency: domain.RSD, Balance: decimal.NewFromInt(100)},
			domain.Account{Ref: "B", OwnerClientID: "c1", Currency: domain.RSD, Balance: decimal.NewFromInt(10)},
		),
	)
}

func TestStore_WithTxCommitsStagedWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Debit(ctx, "A", decimal.NewFromInt(40)); err != nil {
			return err
		}
		return s.Credit(ctx, "B", decimal.NewFromInt(40))
	})
	require.NoError(t, err)

	a, err := s.LookupAccount(ctx, "A")
	require.NoError(t, err)
	b, err := s.LookupAccount(ctx, "B")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(60)))
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(50)))
}

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Debit(ctx, "A", decimal.NewFromInt(40)))

		acc, err := s.LookupAccount(ctx, "A")
		require.NoError(t, err)
		assert.True(t, acc.Balance.Equal(decimal.NewFromInt(60)), "unit of work sees its own writes")
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, err := s.LookupAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(100)))
}

func TestStore_DebitRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("outside unit of work", func(t *testing.T) {
		err := s.Debit(ctx, "A", decimal.NewFromInt(1))
		assert.Equal(t, domain.CodeUnexpected, domain.CodeOf(err))
		assert.ErrorIs(t, err, storage.ErrNoUnitOfWork)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context) error {
			return s.Debit(ctx, "B", decimal.NewFromInt(11))
		})
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	})

	t.Run("unknown account", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context) error {
			return s.Credit(ctx, "missing", decimal.NewFromInt(1))
		})
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})
}

func TestStore_TransitionPendingIsCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := domain.PendingTransaction{ID: "p1", Kind: domain.KindTransfer, State: domain.StateAwaitingConfirmation}
	require.NoError(t, s.PutPending(ctx, rec))
	require.Error(t, s.PutPending(ctx, rec))

	ok, err := s.TransitionPending(ctx, "p1", domain.StateAwaitingConfirmation, domain.StateCompleted, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionPending(ctx, "p1", domain.StateAwaitingConfirmation, domain.StateFailed, domain.CodeInsufficientFunds)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetPending(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), got.UpdatedAt)

	_, err = s.TransitionPending(ctx, "nope", domain.StateAwaitingConfirmation, domain.StateCompleted, "")
	assert.ErrorIs(t, err, domain.ErrPendingTransactionNotFound)
}

func TestStore_Accounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateAccount(ctx, domain.Account{Ref: "A", OwnerClientID: "c2", Currency: domain.EUR})
	assert.ErrorIs(t, err, storage.ErrAccountExists)

	require.NoError(t, s.CreateAccount(ctx, domain.Account{Ref: "C", OwnerClientID: "c1", Currency: domain.EUR, Balance: decimal.Zero}))

	accounts, total, err := s.ListAccounts(ctx, "c1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, accounts, 2)

	accounts, _, err = s.ListAccounts(ctx, "c1", 1, 2)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	accounts, total, err = s.ListAccounts(ctx, "nobody", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, accounts)
}

func TestStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		return New()
	})
}
