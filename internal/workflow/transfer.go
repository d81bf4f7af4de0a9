package workflow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/domain"
)

type CreateTransferInput struct {
	SenderAccountRef   string
	ReceiverAccountRef string
	Amount             decimal.Decimal
}

// TransferWorkflow moves funds between two accounts of the same currency.
type TransferWorkflow struct {
	*engine
}

func NewTransferWorkflow(repo Repository, opts ...Option) *TransferWorkflow {
	return &TransferWorkflow{engine: newEngine(repo, "transfer", opts...)}
}

// CreateTransfer validates the request and stores it awaiting confirmation.
// The funds check is advisory; nothing is reserved.
func (w *TransferWorkflow) CreateTransfer(ctx context.Context, clientID string, in CreateTransferInput) (_ domain.PendingTransaction, err error) {
	ctx, span := w.startSpan(ctx, "workflow.CreateTransfer")
	defer func() { endSpan(span, err) }()

	sender, err := w.validateTransfer(ctx, clientID, in.SenderAccountRef, in.ReceiverAccountRef, in.Amount)
	if err != nil {
		err = classify("create transfer", err)
		w.logFailure(ctx, "transfer rejected", "", clientID, err)
		return domain.PendingTransaction{}, err
	}

	return w.create(ctx, domain.PendingTransaction{
		Kind:               domain.KindTransfer,
		OwnerClientID:      clientID,
		SenderAccountRef:   in.SenderAccountRef,
		ReceiverAccountRef: in.ReceiverAccountRef,
		Amount:             in.Amount,
		Currency:           sender.Currency,
	})
}

// ConfirmTransfer re-validates and executes a pending transfer owned by clientID.
// A failed re-validation moves the record to FAILED and returns it together with
// the validation error.
func (w *TransferWorkflow) ConfirmTransfer(ctx context.Context, clientID, id string) (_ ConfirmResult, err error) {
	ctx, span := w.startSpan(ctx, "workflow.ConfirmTransfer")
	defer func() { endSpan(span, err) }()

	return w.confirm(ctx, clientID, id, domain.KindTransfer,
		func(ctx context.Context, rec domain.PendingTransaction) error {
			_, err := w.validateTransfer(ctx, rec.OwnerClientID, rec.SenderAccountRef, rec.ReceiverAccountRef, rec.Amount)
			return err
		},
		func(ctx context.Context, rec domain.PendingTransaction) error {
			if err := w.repo.Debit(ctx, rec.SenderAccountRef, rec.Amount); err != nil {
				return err
			}
			return w.repo.Credit(ctx, rec.ReceiverAccountRef, rec.Amount)
		},
	)
}

// GetTransfer returns a transfer to its owner.
func (w *TransferWorkflow) GetTransfer(ctx context.Context, clientID, id string) (domain.PendingTransaction, error) {
	rec, err := w.Get(ctx, clientID, id)
	if err != nil {
		return domain.PendingTransaction{}, err
	}
	if rec.Kind != domain.KindTransfer {
		return domain.PendingTransaction{}, domain.NewError(domain.CodePendingTransactionNotFound, "pending transaction %s not found", id)
	}
	return rec, nil
}

// validateTransfer runs the create-time checks again at confirm time. The
// sender must belong to owner.
func (w *TransferWorkflow) validateTransfer(ctx context.Context, owner, senderRef, receiverRef string, amount decimal.Decimal) (domain.Account, error) {
	if err := checkAmount(amount); err != nil {
		return domain.Account{}, err
	}
	sender, receiver, err := lookupPair(ctx, w.repo, owner, senderRef, receiverRef)
	if err != nil {
		return domain.Account{}, err
	}
	if err := checkSameCurrency(sender, receiver); err != nil {
		return domain.Account{}, err
	}
	if err := checkFunds(sender, amount); err != nil {
		return domain.Account{}, err
	}
	return sender, nil
}
