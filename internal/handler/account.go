package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/middleware"
	"github.com/chungtau/ledger-payments/internal/storage"
)

type AccountStore interface {
	CreateAccount(ctx context.Context, acc domain.Account) error
	ListAccounts(ctx context.Context, owner string, page, pageSize int) ([]domain.Account, int, error)
	LookupAccount(ctx context.Context, ref string) (domain.Account, error)
}

// AccountHandler handles account-related endpoints
type AccountHandler struct {
	store AccountStore
	newID func() string
}

func NewAccountHandler(store AccountStore) *AccountHandler {
	return &AccountHandler{
		store: store,
		newID: uuid.NewString,
	}
}

type CreateAccountRequest struct {
	Currency       string `json:"currency" binding:"required,len=3"`
	InitialBalance string `json:"initial_balance"`
}

type AccountResponse struct {
	AccountRef string `json:"account_ref"`
	ClientID   string `json:"client_id"`
	Currency   string `json:"currency"`
	Balance    string `json:"balance"`
	CreatedAt  string `json:"created_at"`
}

type ListAccountsResponse struct {
	Accounts   []AccountResponse `json:"accounts"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}

func toAccountResponse(acc domain.Account) AccountResponse {
	return AccountResponse{
		AccountRef: acc.Ref,
		ClientID:   acc.OwnerClientID,
		Currency:   string(acc.Currency),
		Balance:    acc.Balance.StringFixed(2),
		CreatedAt:  acc.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Create handles POST /v1/accounts
func (h *AccountHandler) Create(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c, err)
		return
	}

	currency := domain.ParseCurrency(req.Currency)
	if !currency.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "currency must be a three-letter ISO code",
		})
		return
	}

	balance := decimal.Zero
	if req.InitialBalance != "" {
		b, err := decimal.NewFromString(req.InitialBalance)
		if err != nil || b.IsNegative() || !domain.FitsScale(b) {
			abortWithError(c, domain.NewError(domain.CodeInvalidAmount, "initial_balance must be a non-negative decimal with at most 4 decimal places"))
			return
		}
		balance = b
	}

	acc := domain.Account{
		Ref:           h.newID(),
		OwnerClientID: middleware.GetClientID(c),
		Currency:      currency,
		Balance:       balance,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.CreateAccount(c.Request.Context(), acc); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAccountResponse(acc))
}

// List handles GET /v1/accounts
func (h *AccountHandler) List(c *gin.Context) {
	page := 0
	pageSize := storage.DefaultPageSize

	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p >= 0 {
			page = p
		}
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	accounts, total, err := h.store.ListAccounts(c.Request.Context(), middleware.GetClientID(c), page, pageSize)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, toAccountResponse(acc))
	}

	_, limit := storage.Page(page, pageSize)
	c.JSON(http.StatusOK, ListAccountsResponse{
		Accounts:   out,
		TotalCount: total,
		Page:       page,
		PageSize:   limit,
	})
}
