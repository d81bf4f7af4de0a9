// Package event describes the lifecycle notifications emitted for pending
// transactions and fans them out to the configured sinks.
package event

import (
	"context"
	"errors"
	"time"

	"github.com/chungtau/ledger-payments/internal/domain"
)

type Type string

const (
	TypeCreated   Type = "transaction.created"
	TypeCompleted Type = "transaction.completed"
	TypeFailed    Type = "transaction.failed"
)

// TransactionEvent is the wire shape shared by the Kafka topic and the audit index.
type TransactionEvent struct {
	Type               Type      `json:"type"`
	TransactionID      string    `json:"transactionId"`
	Kind               string    `json:"kind"`
	OwnerClientID      string    `json:"ownerClientId"`
	SenderAccountRef   string    `json:"senderAccountRef"`
	ReceiverAccountRef string    `json:"receiverAccountRef,omitempty"`
	PaymentCode        string    `json:"paymentCode,omitempty"`
	Amount             string    `json:"amount"`
	Currency           string    `json:"currency"`
	State              string    `json:"state"`
	FailureCode        string    `json:"failureCode,omitempty"`
	OccurredAt         time.Time `json:"occurredAt"`
}

// FromPending builds the event for a record that just reached its current state.
func FromPending(p domain.PendingTransaction) TransactionEvent {
	typ := TypeCreated
	switch p.State {
	case domain.StateCompleted:
		typ = TypeCompleted
	case domain.StateFailed:
		typ = TypeFailed
	}

	occurred := p.UpdatedAt
	if occurred.IsZero() {
		occurred = p.CreatedAt
	}

	return TransactionEvent{
		Type:               typ,
		TransactionID:      p.ID,
		Kind:               string(p.Kind),
		OwnerClientID:      p.OwnerClientID,
		SenderAccountRef:   p.SenderAccountRef,
		ReceiverAccountRef: p.ReceiverAccountRef,
		PaymentCode:        p.PaymentCode,
		Amount:             p.Amount.String(),
		Currency:           string(p.Currency),
		State:              string(p.State),
		FailureCode:        string(p.FailureCode),
		OccurredAt:         occurred.UTC(),
	}
}

// Publisher delivers one event to a sink.
type Publisher interface {
	Publish(ctx context.Context, evt TransactionEvent) error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt TransactionEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Used by mock mode and tests.
type Recorder struct {
	events chan TransactionEvent
}

// NewRecorder returns a recorder that buffers up to size events and drops the rest.
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan TransactionEvent, size)}
}

func (r *Recorder) Publish(_ context.Context, evt TransactionEvent) error {
	select {
	case r.events <- evt:
	default:
	}
	return nil
}

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []TransactionEvent {
	var out []TransactionEvent
	for {
		select {
		case evt := <-r.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}
