// Package storagetest holds the behaviour every ledger store must share.
package storagetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/storage"
	"github.com/chungtau/ledger-payments/internal/workflow"
)

// Store is the full surface the service needs from a backend.
type Store interface {
	workflow.Repository
	CreateAccount(ctx context.Context, acc domain.Account) error
	ListAccounts(ctx context.Context, owner string, page, pageSize int) ([]domain.Account, int, error)
	Ping(ctx context.Context) error
}

// Run exercises s. newStore must return an empty store; refs are unique per call.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("unit of work", func(t *testing.T) { testUnitOfWork(t, newStore(t)) })
	t.Run("pending round trip", func(t *testing.T) { testPendingRoundTrip(t, newStore(t)) })
	t.Run("transition compare and set", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("concurrent confirmations", func(t *testing.T) { testConcurrentConfirm(t, newStore(t)) })
	t.Run("fractional amounts", func(t *testing.T) { testFractionalAmounts(t, newStore(t)) })
}

var created = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func seed(t *testing.T, s Store, accounts ...domain.Account) {
	t.Helper()
	for _, acc := range accounts {
		require.NoError(t, s.CreateAccount(context.Background(), acc))
	}
}

func account(ref, owner string, cur domain.Currency, balance string) domain.Account {
	return domain.Account{
		Ref:           ref,
		OwnerClientID: owner,
		Currency:      cur,
		Balance:       decimal.RequireFromString(balance),
		CreatedAt:     created,
	}
}

func requireBalance(t *testing.T, s Store, ref, want string) {
	t.Helper()
	acc, err := s.LookupAccount(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString(want)), "balance of %s: want %s, got %s", ref, want, acc.Balance)
}

func testAccounts(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	seed(t, s,
		account("acc-a", "owner-1", domain.RSD, "10.25"),
		account("acc-b", "owner-1", domain.EUR, "0"),
		account("acc-c", "owner-2", domain.RSD, "1"),
	)

	acc, err := s.LookupAccount(ctx, "acc-a")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", acc.OwnerClientID)
	assert.Equal(t, domain.RSD, acc.Currency)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("10.25")))
	assert.True(t, acc.CreatedAt.Equal(created))

	_, err = s.LookupAccount(ctx, "acc-missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	err = s.CreateAccount(ctx, account("acc-a", "owner-3", domain.USD, "0"))
	assert.ErrorIs(t, err, storage.ErrAccountExists)

	list, total, err := s.ListAccounts(ctx, "owner-1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, "acc-a", list[0].Ref)

	list, _, err = s.ListAccounts(ctx, "owner-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "acc-b", list[0].Ref)

	list, total, err = s.ListAccounts(ctx, "owner-1", math.MaxInt, storage.MaxPageSize)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 2, total)
}

// testFractionalAmounts keeps every digit up to domain.AmountScale.
func testFractionalAmounts(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s,
		account("frac-a", "owner", domain.RSD, "1000.0001"),
		account("frac-b", "owner", domain.RSD, "0"),
	)
	requireBalance(t, s, "frac-a", "1000.0001")

	smallest := decimal.New(1, -domain.AmountScale)
	rec := domain.PendingTransaction{
		ID:                 "pending-frac",
		Kind:               domain.KindTransfer,
		OwnerClientID:      "owner",
		SenderAccountRef:   "frac-a",
		ReceiverAccountRef: "frac-b",
		Amount:             smallest,
		Currency:           domain.RSD,
		State:              domain.StateAwaitingConfirmation,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	require.NoError(t, s.PutPending(ctx, rec))

	got, err := s.GetPending(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(smallest), "amount: want %s, got %s", smallest, got.Amount)

	err = s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Debit(ctx, "frac-a", got.Amount); err != nil {
			return err
		}
		return s.Credit(ctx, "frac-b", got.Amount)
	})
	require.NoError(t, err)
	requireBalance(t, s, "frac-a", "1000")
	requireBalance(t, s, "frac-b", "0.0001")
}

func testUnitOfWork(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s,
		account("uow-a", "owner", domain.RSD, "100"),
		account("uow-b", "owner", domain.RSD, "0"),
	)

	err := s.Debit(ctx, "uow-a", decimal.NewFromInt(1))
	assert.Equal(t, domain.CodeUnexpected, domain.CodeOf(err))

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Debit(ctx, "uow-a", decimal.NewFromInt(30)))
		require.NoError(t, s.Credit(ctx, "uow-b", decimal.NewFromInt(30)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	requireBalance(t, s, "uow-a", "100")
	requireBalance(t, s, "uow-b", "0")

	err = s.WithTx(ctx, func(ctx context.Context) error {
		return s.Debit(ctx, "uow-a", decimal.RequireFromString("100.01"))
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Debit(ctx, "uow-a", decimal.RequireFromString("99.99")); err != nil {
			return err
		}
		return s.Credit(ctx, "uow-b", decimal.RequireFromString("99.99"))
	})
	require.NoError(t, err)
	requireBalance(t, s, "uow-a", "0.01")
	requireBalance(t, s, "uow-b", "99.99")
}

func testPendingRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	rec := domain.PendingTransaction{
		ID:               "pending-rt",
		Kind:             domain.KindPayment,
		OwnerClientID:    "owner",
		SenderAccountRef: "acc",
		PaymentCode:      "289",
		Purpose:          "rent",
		ReferenceNumber:  "97-11",
		ReceiverName:     "Landlord",
		Amount:           decimal.RequireFromString("12.34"),
		Currency:         domain.RSD,
		State:            domain.StateAwaitingConfirmation,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	require.NoError(t, s.PutPending(ctx, rec))
	assert.Error(t, s.PutPending(ctx, rec))

	got, err := s.GetPending(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(rec.Amount))
	got.Amount = rec.Amount
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(rec.UpdatedAt))
	got.CreatedAt, got.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	assert.Equal(t, rec, got)

	_, err = s.GetPending(ctx, "pending-missing")
	assert.ErrorIs(t, err, domain.ErrPendingTransactionNotFound)
}

func testTransition(t *testing.T, s Store) {
	ctx := context.Background()
	rec := domain.PendingTransaction{
		ID:                 "pending-cas",
		Kind:               domain.KindTransfer,
		OwnerClientID:      "owner",
		SenderAccountRef:   "a",
		ReceiverAccountRef: "b",
		Amount:             decimal.NewFromInt(1),
		Currency:           domain.RSD,
		State:              domain.StateAwaitingConfirmation,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	require.NoError(t, s.PutPending(ctx, rec))

	ok, err := s.TransitionPending(ctx, rec.ID, domain.StateAwaitingConfirmation, domain.StateFailed, domain.CodeInsufficientFunds)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionPending(ctx, rec.ID, domain.StateAwaitingConfirmation, domain.StateCompleted, "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetPending(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, domain.CodeInsufficientFunds, got.FailureCode)

	_, err = s.TransitionPending(ctx, "pending-nowhere", domain.StateAwaitingConfirmation, domain.StateCompleted, "")
	assert.ErrorIs(t, err, domain.ErrPendingTransactionNotFound)
}

func testConcurrentConfirm(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s,
		account("cc-a", "owner", domain.RSD, "50"),
		account("cc-b", "owner", domain.RSD, "0"),
	)

	w := workflow.NewTransferWorkflow(s)
	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := w.CreateTransfer(ctx, "owner", workflow.CreateTransferInput{
			SenderAccountRef:   "cc-a",
			ReceiverAccountRef: "cc-b",
			Amount:             decimal.NewFromInt(20),
		})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	var (
		wg       sync.WaitGroup
		executed atomic.Int64
	)
	for _, id := range ids {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				res, err := w.ConfirmTransfer(ctx, "owner", id)
				if err == nil && res.Executed {
					executed.Add(1)
				}
			}(id)
		}
	}
	wg.Wait()

	// 50 covers two transfers of 20; the third must fail at confirmation.
	assert.Equal(t, int64(2), executed.Load())
	requireBalance(t, s, "cc-a", "10")
	requireBalance(t, s, "cc-b", "40")

	states := map[domain.State]int{}
	for _, id := range ids {
		rec, err := s.GetPending(ctx, id)
		require.NoError(t, err)
		states[rec.State]++
	}
	assert.Equal(t, map[domain.State]int{domain.StateCompleted: 2, domain.StateFailed: 1}, states)
}
