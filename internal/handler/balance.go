package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/middleware"
)

type BalanceHandler struct {
	store AccountStore
}

func NewBalanceHandler(store AccountStore) *BalanceHandler {
	return &BalanceHandler{store: store}
}

type BalanceResponse struct {
	AccountRef string `json:"account_ref"`
	Currency   string `json:"currency"`
	Balance    string `json:"balance"`
}

// Get handles GET /v1/accounts/:ref/balance. Accounts of other clients read as missing.
func (h *BalanceHandler) Get(c *gin.Context) {
	ref := c.Param("ref")

	acc, err := h.store.LookupAccount(c.Request.Context(), ref)
	if err == nil && acc.OwnerClientID != middleware.GetClientID(c) {
		err = domain.NewError(domain.CodeAccountNotFound, "account %s not found", ref)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{
		AccountRef: acc.Ref,
		Currency:   string(acc.Currency),
		Balance:    acc.Balance.StringFixed(2),
	})
}
