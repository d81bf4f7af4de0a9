// Package storage holds what the ledger store implementations share.
package storage

import (
	"errors"
	"math"

	"github.com/chungtau/ledger-payments/internal/domain"
)

var (
	// ErrAccountExists is returned by CreateAccount on a duplicate ref.
	ErrAccountExists = errors.New("account already exists")

	// ErrNoUnitOfWork is returned when a balance mutation runs outside WithTx.
	ErrNoUnitOfWork = errors.New("balance mutation outside unit of work")
)

const (
	// DefaultPageSize applies when a caller asks for page_size <= 0.
	DefaultPageSize = 20
	// MaxPageSize caps page_size.
	MaxPageSize = 100
)

// AccountNotFound builds the ledger-level miss. Workflows rename it by role.
func AccountNotFound(ref string) error {
	return domain.NewError(domain.CodeAccountNotFound, "account %s not found", ref)
}

// PendingNotFound builds the miss for an unknown pending transaction id.
func PendingNotFound(id string) error {
	return domain.NewError(domain.CodePendingTransactionNotFound, "pending transaction %s not found", id)
}

// Page normalises pagination input into an offset and limit. Pages past
// math.MaxInt/pageSize are clamped so the offset never wraps negative.
func Page(page, pageSize int) (offset, limit int) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page > math.MaxInt/pageSize {
		page = math.MaxInt / pageSize
	}
	return page * pageSize, pageSize
}
