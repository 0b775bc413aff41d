package api

import (
	"errors"
	"net/http"

	"auction-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindState, service.KindRejected:
		return http.StatusConflict
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": code, "message": text}
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := statusFor(kind)

	body := gin.H{
		"error":   service.CodeOf(err),
		"message": err.Error(),
	}
	if kind == service.KindInternal {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["message"] = "internal server error"
	}

	var tooLow *service.BidTooLowError
	if errors.As(err, &tooLow) {
		body["current_bid"] = tooLow.CurrentBid.StringFixed(2)
	}

	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
	})
}
