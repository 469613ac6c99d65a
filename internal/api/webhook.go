package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/reconcile"
)

// paymentWebhook receives signed gateway notifications. The raw body is
// required for signature verification, so it is read before any decoding.
func (s *Server) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "unreadable body",
		})
		return
	}

	err = s.Reconciler.HandleWebhook(c.Request.Context(), body, c.GetHeader("sign"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, reconcile.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_SIGNATURE",
			"error": "signature verification failed",
		})
	case errors.Is(err, reconcile.ErrUnknownTransaction):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_TRANSACTION",
			"error": "no matching transaction",
		})
	default:
		log.Printf("webhook: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "webhook processing failed",
		})
	}
}
