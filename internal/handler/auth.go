package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chungtau/ledger-payments/internal/auth"
)

// AuthHandler issues development tokens. Only routed in DEV_MODE.
type AuthHandler struct {
	jwtSecret string
	devMode   bool
}

func NewAuthHandler(jwtSecret string, devMode bool) *AuthHandler {
	return &AuthHandler{
		jwtSecret: jwtSecret,
		devMode:   devMode,
	}
}

type DevTokenRequest struct {
	ClientID  string `json:"client_id"`
	ExpiresIn int    `json:"expires_in"` // seconds, default 3600
}

type DevTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	ClientID  string `json:"client_id"`
}

// GenerateDevToken handles POST /auth/dev/token
func (h *AuthHandler) GenerateDevToken(c *gin.Context) {
	if !h.devMode {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "Endpoint not available",
		})
		return
	}

	var req DevTokenRequest
	// an empty body means defaults
	_ = c.ShouldBindJSON(&req)

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}
	expiresIn := req.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	token, expiresAt, err := auth.IssueToken(h.jwtSecret, clientID, time.Duration(expiresIn)*time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "UNEXPECTED",
			"message": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, DevTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		ClientID:  clientID,
	})
}
