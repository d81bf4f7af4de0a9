package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/middleware"
	"github.com/chungtau/ledger-payments/internal/workflow"
)

type TransferService interface {
	CreateTransfer(ctx context.Context, clientID string, in workflow.CreateTransferInput) (domain.PendingTransaction, error)
	ConfirmTransfer(ctx context.Context, clientID, id string) (workflow.ConfirmResult, error)
}

type PaymentService interface {
	CreatePayment(ctx context.Context, clientID string, in workflow.CreatePaymentInput) (domain.PendingTransaction, error)
	ConfirmPayment(ctx context.Context, clientID, id string) (workflow.ConfirmResult, error)
}

type PendingReader interface {
	Get(ctx context.Context, clientID, id string) (domain.PendingTransaction, error)
}

// PaymentHandler serves the two-phase transfer and payment endpoints.
type PaymentHandler struct {
	transfers TransferService
	payments  PaymentService
	reader    PendingReader
}

func NewPaymentHandler(transfers TransferService, payments PaymentService, reader PendingReader) *PaymentHandler {
	return &PaymentHandler{
		transfers: transfers,
		payments:  payments,
		reader:    reader,
	}
}

type CreateTransferRequest struct {
	SenderAccount   string `json:"sender_account" binding:"required"`
	ReceiverAccount string `json:"receiver_account" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
}

// CreatePaymentRequest leaves payment_code and purpose to the workflow so the
// caller gets the dedicated error codes.
type CreatePaymentRequest struct {
	SenderAccount   string `json:"sender_account" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	PaymentCode     string `json:"payment_code"`
	Purpose         string `json:"purpose"`
	ReferenceNumber string `json:"reference_number"`
	ReceiverName    string `json:"receiver_name"`
}

type PendingTransactionResponse struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	State           string `json:"state"`
	SenderAccount   string `json:"sender_account"`
	ReceiverAccount string `json:"receiver_account,omitempty"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	PaymentCode     string `json:"payment_code,omitempty"`
	Purpose         string `json:"purpose,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	ReceiverName    string `json:"receiver_name,omitempty"`
	FailureCode     string `json:"failure_code,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type ConfirmResponse struct {
	Executed    bool                       `json:"executed"`
	Transaction PendingTransactionResponse `json:"transaction"`
}

// confirmFailure is returned when re-validation moved the record to FAILED.
type confirmFailure struct {
	Code        string                     `json:"code"`
	Message     string                     `json:"message"`
	Transaction PendingTransactionResponse `json:"transaction"`
}

func toPendingResponse(p domain.PendingTransaction) PendingTransactionResponse {
	return PendingTransactionResponse{
		ID:              p.ID,
		Kind:            string(p.Kind),
		State:           string(p.State),
		SenderAccount:   p.SenderAccountRef,
		ReceiverAccount: p.ReceiverAccountRef,
		Amount:          p.Amount.String(),
		Currency:        string(p.Currency),
		PaymentCode:     p.PaymentCode,
		Purpose:         p.Purpose,
		ReferenceNumber: p.ReferenceNumber,
		ReceiverName:    p.ReceiverName,
		FailureCode:     string(p.FailureCode),
		CreatedAt:       p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// parseAmount accepts only positive decimals.
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, domain.NewError(domain.CodeInvalidAmount, "amount %q is not a decimal number", raw)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, domain.NewError(domain.CodeInvalidAmount, "amount must be greater than zero")
	}
	return amount, nil
}

// CreateTransfer handles POST /v1/payments/transfer
func (h *PaymentHandler) CreateTransfer(c *gin.Context) {
	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}

	rec, err := h.transfers.CreateTransfer(c.Request.Context(), middleware.GetClientID(c), workflow.CreateTransferInput{
		SenderAccountRef:   req.SenderAccount,
		ReceiverAccountRef: req.ReceiverAccount,
		Amount:             amount,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toPendingResponse(rec))
}

// ConfirmTransfer handles POST /v1/payments/confirm-transfer/:id
func (h *PaymentHandler) ConfirmTransfer(c *gin.Context) {
	res, err := h.transfers.ConfirmTransfer(c.Request.Context(), middleware.GetClientID(c), c.Param("id"))
	h.writeConfirm(c, res, err)
}

// CreatePayment handles POST /v1/payments/payment
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}

	rec, err := h.payments.CreatePayment(c.Request.Context(), middleware.GetClientID(c), workflow.CreatePaymentInput{
		SenderAccountRef: req.SenderAccount,
		Amount:           amount,
		PaymentCode:      req.PaymentCode,
		Purpose:          req.Purpose,
		ReferenceNumber:  req.ReferenceNumber,
		ReceiverName:     req.ReceiverName,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toPendingResponse(rec))
}

// ConfirmPayment handles POST /v1/payments/confirm-payment/:id
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	res, err := h.payments.ConfirmPayment(c.Request.Context(), middleware.GetClientID(c), c.Param("id"))
	h.writeConfirm(c, res, err)
}

// Get handles GET /v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	rec, err := h.reader.Get(c.Request.Context(), middleware.GetClientID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPendingResponse(rec))
}

func (h *PaymentHandler) writeConfirm(c *gin.Context, res workflow.ConfirmResult, err error) {
	if err == nil {
		c.JSON(http.StatusOK, ConfirmResponse{
			Executed:    res.Executed,
			Transaction: toPendingResponse(res.Transaction),
		})
		return
	}

	apiErr := ToAPIError(err)
	if res.Transaction.State == domain.StateFailed {
		c.AbortWithStatusJSON(apiErr.HTTPStatus, confirmFailure{
			Code:        apiErr.Code,
			Message:     apiErr.Message,
			Transaction: toPendingResponse(res.Transaction),
		})
		return
	}
	c.AbortWithStatusJSON(apiErr.HTTPStatus, apiErr)
}
