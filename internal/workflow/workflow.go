// Package workflow implements the two-phase transfer and payment flows:
// create a pending transaction, then let its owner confirm it, at which point
// the funds move inside a single unit of work.
package workflow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/clock"
	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/event"
	"github.com/chungtau/ledger-payments/internal/logging"
)

// AccountLedger owns balances. Debit and Credit are only valid inside WithTx.
type AccountLedger interface {
	LookupAccount(ctx context.Context, ref string) (domain.Account, error)
	Debit(ctx context.Context, ref string, amount decimal.Decimal) error
	Credit(ctx context.Context, ref string, amount decimal.Decimal) error
}

// PendingTransactionStore persists pending transactions. TransitionPending is a
// compare-and-set on the state and reports false when the stored state is not expected.
type PendingTransactionStore interface {
	PutPending(ctx context.Context, rec domain.PendingTransaction) error
	GetPending(ctx context.Context, id string) (domain.PendingTransaction, error)
	TransitionPending(ctx context.Context, id string, expected, next domain.State, failure domain.Code) (bool, error)
}

// UnitOfWork runs fn so that every store and ledger effect made through the
// ctx it receives commits together or not at all.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Repository interface {
	UnitOfWork
	AccountLedger
	PendingTransactionStore
}

// ConfirmResult is returned by both confirmations. Executed is true only when
// funds moved; a rejected confirmation still carries the FAILED record.
type ConfirmResult struct {
	Transaction domain.PendingTransaction
	Executed    bool
}

type engine struct {
	repo         Repository
	clock        clock.Clock
	newID        func() string
	baseCurrency domain.Currency
	notifier     event.Publisher
	logger       *zap.Logger
	tracer       trace.Tracer
}

type Option func(*engine)

func WithClock(c clock.Clock) Option {
	return func(e *engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIDGenerator overrides uuid.NewString for record ids.
func WithIDGenerator(fn func() string) Option {
	return func(e *engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithBaseCurrency sets the currency payments must be sent from.
func WithBaseCurrency(c domain.Currency) Option {
	return func(e *engine) {
		if c.Valid() {
			e.baseCurrency = c
		}
	}
}

// WithNotifier publishes lifecycle events after each commit.
func WithNotifier(p event.Publisher) Option {
	return func(e *engine) {
		e.notifier = p
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func newEngine(repo Repository, name string, opts ...Option) *engine {
	e := &engine{
		repo:         repo,
		clock:        clock.NewSystem(),
		newID:        uuid.NewString,
		baseCurrency: domain.DefaultBaseCurrency,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/chungtau/ledger-payments/internal/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named(name)
	return e
}

func (e *engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(domain.CodeOf(err)))
	}
	span.End()
}

// create validates nothing itself; it stamps and stores an already validated record.
func (e *engine) create(ctx context.Context, rec domain.PendingTransaction) (domain.PendingTransaction, error) {
	now := e.clock.Now()
	rec.ID = e.newID()
	rec.State = domain.StateAwaitingConfirmation
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := e.repo.PutPending(ctx, rec); err != nil {
		return domain.PendingTransaction{}, classify("store pending transaction", err)
	}

	logging.WithTrace(ctx, e.logger).Info("pending transaction created",
		zap.String("transaction_id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.String("owner_client_id", rec.OwnerClientID),
		zap.String("amount", rec.Amount.String()),
		zap.String("currency", string(rec.Currency)),
	)
	e.notify(ctx, rec)
	return rec, nil
}

// revalidate checks the record against current ledger state. It runs inside the
// confirm unit of work, so the accounts it looks up stay locked until commit.
type revalidate func(ctx context.Context, rec domain.PendingTransaction) error

// execute moves the funds. Only called after revalidate succeeded.
type execute func(ctx context.Context, rec domain.PendingTransaction) error

func (e *engine) confirm(ctx context.Context, clientID, id string, kind domain.Kind, check revalidate, run execute) (ConfirmResult, error) {
	var (
		result    ConfirmResult
		rejection error
	)

	err := e.repo.WithTx(ctx, func(txCtx context.Context) error {
		rec, err := e.repo.GetPending(txCtx, id)
		if err != nil {
			return err
		}
		if rec.Kind != kind {
			return domain.NewError(domain.CodePendingTransactionNotFound, "pending transaction %s not found", id)
		}
		if !rec.OwnedBy(clientID) {
			return domain.NewError(domain.CodeUnauthorizedConfirmation, "caller is not allowed to confirm this transaction")
		}
		if rec.State != domain.StateAwaitingConfirmation {
			return domain.NewError(domain.CodeTransactionNotPending, "transaction %s is %s", id, rec.State)
		}

		if verr := check(txCtx, rec); verr != nil {
			code := domain.CodeOf(verr)
			if fam := code.Family(); fam != domain.FamilyValidation && fam != domain.FamilyNotFound {
				return verr
			}
			if err := e.transition(txCtx, &rec, domain.StateFailed, code); err != nil {
				return err
			}
			result = ConfirmResult{Transaction: rec}
			rejection = verr
			return nil
		}

		if err := run(txCtx, rec); err != nil {
			return err
		}
		if err := e.transition(txCtx, &rec, domain.StateCompleted, ""); err != nil {
			return err
		}
		result = ConfirmResult{Transaction: rec, Executed: true}
		return nil
	})
	if err != nil {
		err = classify("confirm "+string(kind), err)
		e.logFailure(ctx, "confirmation rejected", id, clientID, err)
		return ConfirmResult{}, err
	}

	log := logging.WithTrace(ctx, e.logger).With(
		zap.String("transaction_id", id),
		zap.String("state", string(result.Transaction.State)),
	)
	if rejection != nil {
		log.Info("pending transaction failed at confirmation", zap.String("code", string(domain.CodeOf(rejection))))
	} else {
		log.Info("pending transaction executed", zap.String("amount", result.Transaction.Amount.String()))
	}
	e.notify(ctx, result.Transaction)
	return result, rejection
}

func (e *engine) transition(ctx context.Context, rec *domain.PendingTransaction, next domain.State, failure domain.Code) error {
	ok, err := e.repo.TransitionPending(ctx, rec.ID, domain.StateAwaitingConfirmation, next, failure)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewError(domain.CodeTransactionNotPending, "transaction %s is no longer pending", rec.ID)
	}
	rec.State = next
	rec.FailureCode = failure
	rec.UpdatedAt = e.clock.Now()
	return nil
}

// Get returns any pending transaction to its owner, whatever its kind.
func (e *engine) Get(ctx context.Context, clientID, id string) (domain.PendingTransaction, error) {
	rec, err := e.repo.GetPending(ctx, id)
	if err != nil {
		return domain.PendingTransaction{}, classify("get pending transaction", err)
	}
	if !rec.OwnedBy(clientID) {
		return domain.PendingTransaction{}, domain.NewError(domain.CodeUnauthorizedConfirmation, "caller may not access this transaction")
	}
	return rec, nil
}

func (e *engine) notify(ctx context.Context, rec domain.PendingTransaction) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, event.FromPending(rec)); err != nil {
		logging.WithTrace(ctx, e.logger).Warn("publish transaction event",
			zap.String("transaction_id", rec.ID),
			zap.Error(err),
		)
	}
}

func (e *engine) logFailure(ctx context.Context, msg, id, clientID string, err error) {
	log := logging.WithTrace(ctx, e.logger).With(
		zap.String("transaction_id", id),
		zap.String("client_id", clientID),
		zap.String("code", string(domain.CodeOf(err))),
	)
	if domain.CodeOf(err) == domain.CodeUnexpected {
		log.Error(msg, zap.Error(err))
		return
	}
	log.Info(msg, zap.Error(err))
}

// classify passes workflow errors through and marks everything else Unexpected.
func classify(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Unexpected(op, err)
}
