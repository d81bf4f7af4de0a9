package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCodeFamily(t *testing.T) {
	tests := []struct {
		code Code
		want Family
	}{
		{CodeSenderAccountNotFound, FamilyNotFound},
		{CodeReceiverAccountNotFound, FamilyNotFound},
		{CodePendingTransactionNotFound, FamilyNotFound},
		{CodeNotSameCurrency, FamilyValidation},
		{CodeInsufficientFunds, FamilyValidation},
		{CodePaymentCodeRequired, FamilyValidation},
		{CodePurposeRequired, FamilyValidation},
		{CodeSenderCurrencyNotBase, FamilyValidation},
		{CodeTransactionNotPending, FamilyValidation},
		{CodeUnauthorizedConfirmation, FamilyAuthorization},
		{CodeAuthenticationFailed, FamilyAuthorization},
		{CodeUnexpected, FamilyUnexpected},
		{Code("SOMETHING_ELSE"), FamilyUnexpected},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Family())
		})
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewError(CodeInsufficientFunds, "balance %s below %s", "10", "20")

	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrNotSameCurrency))
	assert.Equal(t, "INSUFFICIENT_FUNDS: balance 10 below 20", err.Error())

	wrapped := fmt.Errorf("confirm: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInsufficientFunds))
	assert.Equal(t, CodeInsufficientFunds, CodeOf(wrapped))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnexpected, CodeOf(errors.New("connection reset")))

	cause := errors.New("tx aborted")
	err := Unexpected("commit", cause)
	assert.Equal(t, CodeUnexpected, CodeOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestErrorGRPCStatus(t *testing.T) {
	st, ok := status.FromError(NewError(CodeUnauthorizedConfirmation, "not the owner"))
	require.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, st.Code())

	st, ok = status.FromError(ErrTransactionNotPending)
	require.True(t, ok)
	assert.Equal(t, codes.Aborted, st.Code())
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateAwaitingConfirmation.CanTransition(StateCompleted))
	assert.True(t, StateAwaitingConfirmation.CanTransition(StateFailed))
	assert.False(t, StateAwaitingConfirmation.CanTransition(StateAwaitingConfirmation))
	assert.False(t, StateCompleted.CanTransition(StateFailed))
	assert.False(t, StateFailed.CanTransition(StateCompleted))
}

func TestCurrency(t *testing.T) {
	assert.Equal(t, RSD, ParseCurrency(" rsd "))
	assert.True(t, EUR.Valid())
	assert.False(t, Currency("EU").Valid())
	assert.False(t, Currency("eur").Valid())
}
