package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error             string `json:"error"`
	Field             string `json:"field,omitempty"`
	Message           string `json:"message,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "invalid_input", Message: message})
}

// writeError maps engine errors onto status codes without leaking which
// credential check failed.
func (h *handler) writeError(c *gin.Context, err error) {
	var (
		verr    *goGuard.ValidationError
		blocked *goGuard.BlockedError
	)
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "invalid_input", Field: verr.Field, Message: verr.Message})
	case errors.As(err, &blocked):
		secs := blocked.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "blocked", Reason: blocked.Reason, RetryAfterSeconds: secs})
	case errors.Is(err, goGuard.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid_credentials"})
	case errors.Is(err, goGuard.ErrInvalidSecondFactor),
		errors.Is(err, goGuard.ErrOTPInvalid),
		errors.Is(err, goGuard.ErrTOTPInvalidCode):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid_code"})
	case errors.Is(err, goGuard.ErrChallengeInvalid):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "challenge_invalid"})
	case errors.Is(err, goGuard.ErrUnauthorized), errors.Is(err, goGuard.ErrTokenInvalid):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, goGuard.ErrMethodNotAllowed), errors.Is(err, goGuard.ErrOTPPurposeInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "invalid_input", Message: err.Error()})
	case goGuard.IsPolicyError(err):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{Error: "password_rejected", Message: err.Error()})
	case errors.Is(err, goGuard.ErrTOTPAlreadyEnabled),
		errors.Is(err, goGuard.ErrTOTPNotPending),
		errors.Is(err, goGuard.ErrTOTPNotEnabled):
		c.AbortWithStatusJSON(http.StatusConflict, errorBody{Error: "totp_state", Message: err.Error()})
	case errors.Is(err, goGuard.ErrAccountNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, goGuard.ErrDeviceTokenDisabled):
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "trusted_devices_disabled"})
	case errors.Is(err, goGuard.ErrUnavailable), errors.Is(err, goGuard.ErrEngineNotReady):
		h.logger.Warn("backend unavailable", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "unavailable"})
	default:
		h.logger.Error("unhandled error", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}
