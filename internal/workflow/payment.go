package workflow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/domain"
)

type CreatePaymentInput struct {
	SenderAccountRef string
	Amount           decimal.Decimal
	PaymentCode      string
	Purpose          string
	ReferenceNumber  string
	ReceiverName     string
}

// PaymentWorkflow debits a base-currency account towards an external counterpart.
type PaymentWorkflow struct {
	*engine
}

func NewPaymentWorkflow(repo Repository, opts ...Option) *PaymentWorkflow {
	return &PaymentWorkflow{engine: newEngine(repo, "payment", opts...)}
}

// BaseCurrency is the currency payments must be sent from.
func (w *PaymentWorkflow) BaseCurrency() domain.Currency {
	return w.baseCurrency
}

func (w *PaymentWorkflow) CreatePayment(ctx context.Context, clientID string, in CreatePaymentInput) (_ domain.PendingTransaction, err error) {
	ctx, span := w.startSpan(ctx, "workflow.CreatePayment")
	defer func() { endSpan(span, err) }()

	if err = checkPaymentDetails(in.PaymentCode, in.Purpose); err != nil {
		w.logFailure(ctx, "payment rejected", "", clientID, err)
		return domain.PendingTransaction{}, err
	}

	sender, err := w.validatePayment(ctx, clientID, in.SenderAccountRef, in.Amount)
	if err != nil {
		err = classify("create payment", err)
		w.logFailure(ctx, "payment rejected", "", clientID, err)
		return domain.PendingTransaction{}, err
	}

	return w.create(ctx, domain.PendingTransaction{
		Kind:             domain.KindPayment,
		OwnerClientID:    clientID,
		SenderAccountRef: in.SenderAccountRef,
		PaymentCode:      in.PaymentCode,
		Purpose:          in.Purpose,
		ReferenceNumber:  in.ReferenceNumber,
		ReceiverName:     in.ReceiverName,
		Amount:           in.Amount,
		Currency:         sender.Currency,
	})
}

// ConfirmPayment re-validates and executes a pending payment owned by clientID.
// It follows the same result convention as ConfirmTransfer.
func (w *PaymentWorkflow) ConfirmPayment(ctx context.Context, clientID, id string) (_ ConfirmResult, err error) {
	ctx, span := w.startSpan(ctx, "workflow.ConfirmPayment")
	defer func() { endSpan(span, err) }()

	return w.confirm(ctx, clientID, id, domain.KindPayment,
		func(ctx context.Context, rec domain.PendingTransaction) error {
			_, err := w.validatePayment(ctx, rec.OwnerClientID, rec.SenderAccountRef, rec.Amount)
			return err
		},
		func(ctx context.Context, rec domain.PendingTransaction) error {
			return w.repo.Debit(ctx, rec.SenderAccountRef, rec.Amount)
		},
	)
}

// GetPayment returns a payment to its owner.
func (w *PaymentWorkflow) GetPayment(ctx context.Context, clientID, id string) (domain.PendingTransaction, error) {
	rec, err := w.Get(ctx, clientID, id)
	if err != nil {
		return domain.PendingTransaction{}, err
	}
	if rec.Kind != domain.KindPayment {
		return domain.PendingTransaction{}, domain.NewError(domain.CodePendingTransactionNotFound, "pending transaction %s not found", id)
	}
	return rec, nil
}

func (w *PaymentWorkflow) validatePayment(ctx context.Context, owner, senderRef string, amount decimal.Decimal) (domain.Account, error) {
	if err := checkAmount(amount); err != nil {
		return domain.Account{}, err
	}
	sender, err := lookupSender(ctx, w.repo, owner, senderRef)
	if err != nil {
		return domain.Account{}, err
	}
	if err := checkBaseCurrency(sender, w.baseCurrency); err != nil {
		return domain.Account{}, err
	}
	if err := checkFunds(sender, amount); err != nil {
		return domain.Account{}, err
	}
	return sender, nil
}
