package domain

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a workflow failure. It is the only thing callers should
// branch on; Detail is for humans.
type Code string

const (
	CodeSenderAccountNotFound      Code = "SENDER_ACCOUNT_NOT_FOUND"
	CodeReceiverAccountNotFound    Code = "RECEIVER_ACCOUNT_NOT_FOUND"
	CodePendingTransactionNotFound Code = "PENDING_TRANSACTION_NOT_FOUND"
	CodeAccountNotFound            Code = "ACCOUNT_NOT_FOUND"

	CodeNotSameCurrency       Code = "NOT_SAME_CURRENCY"
	CodeInsufficientFunds     Code = "INSUFFICIENT_FUNDS"
	CodePaymentCodeRequired   Code = "PAYMENT_CODE_REQUIRED"
	CodePurposeRequired       Code = "PURPOSE_REQUIRED"
	CodeSenderCurrencyNotBase Code = "SENDER_CURRENCY_NOT_BASE"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeTransactionNotPending Code = "TRANSACTION_NOT_PENDING"

	CodeUnauthorizedConfirmation Code = "UNAUTHORIZED_CONFIRMATION"
	CodeAuthenticationFailed     Code = "AUTHENTICATION_FAILED"

	CodeUnexpected Code = "UNEXPECTED"
)

// Family groups codes by how a caller is expected to react.
type Family string

const (
	FamilyNotFound      Family = "NotFound"
	FamilyValidation    Family = "Validation"
	FamilyAuthorization Family = "Authorization"
	FamilyUnexpected    Family = "Unexpected"
)

// Family returns the taxonomy family of the code. Unknown codes are Unexpected.
func (c Code) Family() Family {
	switch c {
	case CodeSenderAccountNotFound, CodeReceiverAccountNotFound,
		CodePendingTransactionNotFound, CodeAccountNotFound:
		return FamilyNotFound
	case CodeNotSameCurrency, CodeInsufficientFunds, CodePaymentCodeRequired,
		CodePurposeRequired, CodeSenderCurrencyNotBase, CodeInvalidAmount,
		CodeTransactionNotPending:
		return FamilyValidation
	case CodeUnauthorizedConfirmation, CodeAuthenticationFailed:
		return FamilyAuthorization
	default:
		return FamilyUnexpected
	}
}

// GRPCCode maps the code onto the closest gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeSenderAccountNotFound, CodeReceiverAccountNotFound,
		CodePendingTransactionNotFound, CodeAccountNotFound:
		return codes.NotFound
	case CodeNotSameCurrency, CodePaymentCodeRequired, CodePurposeRequired,
		CodeSenderCurrencyNotBase, CodeInvalidAmount:
		return codes.InvalidArgument
	case CodeInsufficientFunds:
		return codes.FailedPrecondition
	case CodeTransactionNotPending:
		return codes.Aborted
	case CodeUnauthorizedConfirmation:
		return codes.PermissionDenied
	case CodeAuthenticationFailed:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}

// Error is the single failure type returned by the workflows.
type Error struct {
	Code   Code
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// GRPCStatus lets status.FromError understand workflow errors.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code.GRPCCode(), e.Error())
}

// NewError builds an error with a formatted detail.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Unexpected wraps an infrastructure failure.
func Unexpected(op string, err error) *Error {
	return &Error{Code: CodeUnexpected, Detail: op, cause: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrSenderAccountNotFound      = &Error{Code: CodeSenderAccountNotFound}
	ErrReceiverAccountNotFound    = &Error{Code: CodeReceiverAccountNotFound}
	ErrPendingTransactionNotFound = &Error{Code: CodePendingTransactionNotFound}
	ErrAccountNotFound            = &Error{Code: CodeAccountNotFound}
	ErrNotSameCurrency            = &Error{Code: CodeNotSameCurrency}
	ErrInsufficientFunds          = &Error{Code: CodeInsufficientFunds}
	ErrPaymentCodeRequired        = &Error{Code: CodePaymentCodeRequired}
	ErrPurposeRequired            = &Error{Code: CodePurposeRequired}
	ErrSenderCurrencyNotBase      = &Error{Code: CodeSenderCurrencyNotBase}
	ErrInvalidAmount              = &Error{Code: CodeInvalidAmount}
	ErrTransactionNotPending      = &Error{Code: CodeTransactionNotPending}
	ErrUnauthorizedConfirmation   = &Error{Code: CodeUnauthorizedConfirmation}
	ErrAuthenticationFailed       = &Error{Code: CodeAuthenticationFailed}
)

// CodeOf extracts the taxonomy code from any error. nil yields "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}
