package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"

	"github.com/chungtau/ledger-payments/internal/domain"
	"github.com/chungtau/ledger-payments/internal/storage"
)

// APIError is the JSON error body shared by every endpoint.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// ToAPIError maps a workflow or store error onto an HTTP status and code.
// Unexpected failures never leak their detail.
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	if errors.Is(err, storage.ErrAccountExists) {
		return &APIError{HTTPStatus: http.StatusConflict, Code: "ACCOUNT_EXISTS", Message: "Account already exists"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{HTTPStatus: http.StatusGatewayTimeout, Code: "DEADLINE_EXCEEDED", Message: "Request timeout"}
	}

	var de *domain.Error
	if !errors.As(err, &de) || de.Code.Family() == domain.FamilyUnexpected {
		return &APIError{
			HTTPStatus: http.StatusInternalServerError,
			Code:       string(domain.CodeUnexpected),
			Message:    "An unexpected error occurred",
		}
	}

	return &APIError{
		HTTPStatus: httpStatusFor(de.GRPCStatus().Code()),
		Code:       string(de.Code),
		Message:    de.Detail,
	}
}

func httpStatusFor(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	apiErr := ToAPIError(err)
	c.AbortWithStatusJSON(apiErr.HTTPStatus, apiErr)
}

func abortInvalidRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_REQUEST",
		"message": "Invalid request body: " + err.Error(),
	})
}
