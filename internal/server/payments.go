package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/rebill/internal/checkout/domain"
)

type createPaymentRequest struct {
	BillingKey string `json:"billingKey"`
	OrderName  string `json:"orderName"`
	Amount     int64  `json:"amount"`
	Customer   struct {
		ID string `json:"id"`
	} `json:"customer"`
}

// CreatePayment submits an immediate billing-key charge. The resulting
// payment settles asynchronously through the webhook.
func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.checkoutSvc.Charge(c.Request.Context(), checkoutdomain.ChargeRequest{
		BillingKey: req.BillingKey,
		OrderName:  req.OrderName,
		Amount:     req.Amount,
		CustomerID: req.Customer.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"paymentId": result.PaymentID,
	})
}
