package helpers

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrWinnerNotFound):
		return http.StatusNotFound, "no winner recorded for auction"
	case errors.Is(err, biddingerrors.ErrPaymentNotFound):
		return http.StatusNotFound, "payment not found"
	case errors.Is(err, biddingerrors.ErrNotificationNotFound):
		return http.StatusNotFound, "notification not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusUnprocessableEntity, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusUnprocessableEntity, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrUnknownOutcome):
		return http.StatusUnprocessableEntity, "unknown payment outcome"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusConflict, "auction not active"
	case errors.Is(err, biddingerrors.ErrSelfOutbid):
		return http.StatusConflict, "bidder already holds the highest bid"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, "invalid auction status transition"
	case errors.Is(err, biddingerrors.ErrAuctionNotDeletable):
		return http.StatusConflict, "auction cannot be deleted"
	case errors.Is(err, biddingerrors.ErrAlreadyExists):
		return http.StatusConflict, "resource already exists"
	case biddingerrors.IsTransient(err):
		return http.StatusConflict, "concurrent bid conflict, please resubmit"
	case errors.Is(err, biddingerrors.ErrVersionConflict):
		return http.StatusConflict, "auction changed concurrently, please retry"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// RespondError writes the mapped error, flagging transient failures as retryable
func RespondError(c *gin.Context, handlerName string, err error, ctx map[string]any) {
	status, message := MapErrorToHTTP(err)
	wrapped := fmt.Errorf("%s: %w", message, err)

	if ctx == nil {
		ctx = map[string]any{}
	}
	ctx["handler"] = handlerName
	ctx["status"] = status
	ctx["error"] = err.Error()

	if biddingerrors.IsTransient(err) || errors.Is(err, biddingerrors.ErrVersionConflict) {
		utils.JSONRetryableError(c, status, wrapped, message)
		utils.Info(handlerName+": retryable conflict", ctx)
		return
	}

	utils.JSONError(c, status, wrapped, message)
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", ctx)
	} else {
		utils.Warn(handlerName+": request rejected", ctx)
	}
}

// QueryInt reads a non-negative integer query parameter, falling back to def
func QueryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("query parameter %s must be a non-negative integer", key)
	}
	return v, nil
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
