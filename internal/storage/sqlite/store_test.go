package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chungtau/ledger-payments/internal/clock"
	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/storage/storagetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ", nil)
	require.Error(t, err)
}

func TestStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		return openTestStore(t)
	})
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := Open(path, clock.NewSystem())
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(ctx, domain.Account{
		Ref:           "persisted",
		OwnerClientID: "owner",
		Currency:      domain.RSD,
		Balance:       decimal.RequireFromString("7.50"),
	}))
	require.NoError(t, store.Close())

	store, err = Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	acc, err := store.LookupAccount(ctx, "persisted")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("7.5")))
	assert.False(t, acc.CreatedAt.IsZero())
}
