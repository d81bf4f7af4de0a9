package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindTransfer Kind = "TRANSFER"
	KindPayment  Kind = "PAYMENT"
)

// State of a pending transaction. COMPLETED and FAILED are terminal.
type State string

const (
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateCompleted            State = "COMPLETED"
	StateFailed               State = "FAILED"
)

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether s -> next is a legal move.
func (s State) CanTransition(next State) bool {
	return s == StateAwaitingConfirmation && next.Terminal()
}

// PendingTransaction is a requested funds movement waiting for its owner to confirm it.
type PendingTransaction struct {
	ID            string
	Kind          Kind
	OwnerClientID string

	SenderAccountRef   string
	ReceiverAccountRef string

	PaymentCode     string
	Purpose         string
	ReferenceNumber string
	ReceiverName    string

	Amount   decimal.Decimal
	Currency Currency

	State       State
	FailureCode Code

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether clientID created the record.
func (p PendingTransaction) OwnedBy(clientID string) bool {
	return clientID != "" && p.OwnerClientID == clientID
}
