package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stonetify/oautherr"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

func NoContent(ctx *gin.Context) {
	ctx.Status(http.StatusNoContent)
}

func Error(ctx *gin.Context, statusCode int, message string) {
	ctx.JSON(statusCode, ErrorResponse{
		Error: message,
		Code:  statusCode,
	})
}

func BadRequest(ctx *gin.Context, message string) {
	Error(ctx, http.StatusBadRequest, message)
}

func Unauthorized(ctx *gin.Context, message string) {
	Error(ctx, http.StatusUnauthorized, message)
}

func InternalError(ctx *gin.Context, message string) {
	Error(ctx, http.StatusInternalServerError, message)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind oautherr.Kind) int {
	switch kind {
	case oautherr.KindValidation, oautherr.KindInvalidState, oautherr.KindInvalidRedirect:
		return http.StatusBadRequest
	case oautherr.KindReauthRequired:
		return http.StatusUnauthorized
	case oautherr.KindNotFound:
		return http.StatusNotFound
	case oautherr.KindRateLimited:
		return http.StatusTooManyRequests
	case oautherr.KindDependency:
		return http.StatusServiceUnavailable
	case oautherr.KindMissingConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as JSON. Messages of untagged errors are not
// exposed to the client.
func RespondError(ctx *gin.Context, err error) {
	e, ok := oautherr.As(err)
	if !ok {
		InternalError(ctx, "internal server error")
		return
	}
	status := StatusFor(e.Kind)

	switch e.Kind {
	case oautherr.KindInvalidState:
		ctx.JSON(status, gin.H{"error": "invalid or expired state", "code": status})
	case oautherr.KindInvalidRedirect:
		ctx.JSON(status, gin.H{
			"error":    "redirect_uri is not allowed",
			"code":     status,
			"rejected": e.Rejected,
			"allowed":  e.Allowed,
		})
	case oautherr.KindReauthRequired:
		ctx.JSON(status, gin.H{
			"error":          "TOKEN_REVOKED",
			"code":           status,
			"requiresReauth": true,
		})
	case oautherr.KindRateLimited:
		ctx.JSON(status, gin.H{"error": "too many requests", "code": status, "details": e.Message})
	case oautherr.KindDependency:
		ctx.JSON(status, gin.H{"error": "upstream dependency failed", "code": status, "retryable": true})
	case oautherr.KindMissingConfig:
		ctx.JSON(status, gin.H{"error": "server misconfigured", "code": status, "details": e.Message})
	default:
		ctx.JSON(status, ErrorResponse{Error: e.Message, Code: status})
	}
}
