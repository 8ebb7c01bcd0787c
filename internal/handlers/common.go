package handlers

import (
	"errors"
	"net/http"

	"opsdesk/internal/auth"
	"opsdesk/internal/middleware"
	"opsdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var ve *services.ValidationError
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrTenantMissing):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRuleNotFound), errors.Is(err, services.ErrAssetNotFound),
		errors.Is(err, services.ErrTicketNotFound), errors.Is(err, services.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAssetTagExists), errors.Is(err, services.ErrEmailExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the mapped status. Store failures do not
// leak driver messages to the client.
func respondError(c *gin.Context, title string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Error: title, Message: msg, Code: status})
}

func sessionOf(c *gin.Context) *auth.Session {
	return middleware.SessionFromGin(c)
}
