package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/domain"
)

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewError(domain.CodeInvalidAmount, "amount must be greater than zero, got %s", amount)
	}
	if !domain.FitsScale(amount) {
		return domain.NewError(domain.CodeInvalidAmount, "amount %s has more than %d decimal places", amount, domain.AmountScale)
	}
	return nil
}

func checkSameCurrency(sender, receiver domain.Account) error {
	if sender.Currency != receiver.Currency {
		return domain.NewError(domain.CodeNotSameCurrency,
			"sender account is in %s, receiver account is in %s", sender.Currency, receiver.Currency)
	}
	return nil
}

func checkFunds(sender domain.Account, amount decimal.Decimal) error {
	if !sender.Covers(amount) {
		return domain.NewError(domain.CodeInsufficientFunds,
			"account %s cannot cover %s %s", sender.Ref, amount, sender.Currency)
	}
	return nil
}

func checkBaseCurrency(sender domain.Account, base domain.Currency) error {
	if sender.Currency != base {
		return domain.NewError(domain.CodeSenderCurrencyNotBase,
			"sender account must be in %s, got %s", base, sender.Currency)
	}
	return nil
}

// checkPaymentDetails needs no ledger access and runs first.
func checkPaymentDetails(paymentCode, purpose string) error {
	if strings.TrimSpace(paymentCode) == "" {
		return domain.NewError(domain.CodePaymentCodeRequired, "payment code is required")
	}
	if strings.TrimSpace(purpose) == "" {
		return domain.NewError(domain.CodePurposeRequired, "purpose of payment is required")
	}
	return nil
}

// lookup resolves ref and renames a ledger miss to the caller's role-specific code.
func lookup(ctx context.Context, ledger AccountLedger, ref string, missing domain.Code) (domain.Account, error) {
	acc, err := ledger.LookupAccount(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.Account{}, domain.NewError(missing, "account %s not found", ref)
		}
		return domain.Account{}, err
	}
	return acc, nil
}

// lookupSender resolves the account funds leave from. An account owned by
// another client reads as missing, the same as an unknown ref.
func lookupSender(ctx context.Context, ledger AccountLedger, owner, ref string) (domain.Account, error) {
	acc, err := lookup(ctx, ledger, ref, domain.CodeSenderAccountNotFound)
	if err != nil {
		return domain.Account{}, err
	}
	if acc.OwnerClientID != owner {
		return domain.Account{}, domain.NewError(domain.CodeSenderAccountNotFound, "account %s not found", ref)
	}
	return acc, nil
}

// lookupPair resolves sender and receiver. Lookups happen in ref order so two
// confirmations over the same pair lock rows in the same sequence.
func lookupPair(ctx context.Context, ledger AccountLedger, owner, senderRef, receiverRef string) (sender, receiver domain.Account, err error) {
	roles := make(map[string]domain.Code, 2)
	roles[receiverRef] = domain.CodeReceiverAccountNotFound
	roles[senderRef] = domain.CodeSenderAccountNotFound
	refs := make([]string, 0, len(roles))
	for ref := range roles {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	found := make(map[string]domain.Account, len(refs))
	var missErr error
	for _, ref := range refs {
		var (
			acc domain.Account
			err error
		)
		if ref == senderRef {
			acc, err = lookupSender(ctx, ledger, owner, ref)
		} else {
			acc, err = lookup(ctx, ledger, ref, roles[ref])
		}
		if err != nil {
			if domain.CodeOf(err).Family() != domain.FamilyNotFound {
				return domain.Account{}, domain.Account{}, err
			}
			if missErr == nil || ref == senderRef {
				missErr = err
			}
			continue
		}
		found[ref] = acc
	}
	if _, ok := found[senderRef]; !ok {
		return domain.Account{}, domain.Account{}, missErr
	}
	if _, ok := found[receiverRef]; !ok {
		return domain.Account{}, domain.Account{}, missErr
	}
	return found[senderRef], found[receiverRef], nil
}
