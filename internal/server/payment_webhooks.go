package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/rebill/internal/payment/domain"
)

type webhookRequest struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// HandlePortOneWebhook settles a provider delivery into the ledger.
// Replayed deliveries acknowledge with the previously settled entry so
// the provider stops retrying.
func (s *Server) HandlePortOneWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" || strings.TrimSpace(req.Status) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	entry, err := s.paymentSvc.ProcessWebhook(c.Request.Context(), paymentdomain.WebhookPayload{
		PaymentID: req.PaymentID,
		Status:    req.Status,
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": "event already processed",
				"payment": entry,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	response := gin.H{
		"success": true,
		"message": "webhook processed",
	}
	if entry != nil {
		response["payment"] = entry
	}
	c.JSON(http.StatusOK, response)
}
