package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/rebill/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/rebill/internal/payment/domain"
	portonedomain "github.com/smallbiznis/rebill/internal/portone/domain"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, code := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Success: false, Error: code})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, "internal_error"
	}

	// Provider rejections keep their upstream status so the caller sees
	// what the provider decided.
	var rejected *portonedomain.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Status, "charge_rejected"
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, paymentdomain.ErrNoActiveSubscription):
		return http.StatusNotFound, paymentdomain.ErrNoActiveSubscription.Error()
	case errors.Is(err, paymentdomain.ErrEventInFlight):
		return http.StatusConflict, paymentdomain.ErrEventInFlight.Error()
	case errors.Is(err, paymentdomain.ErrProviderLookupFailed):
		return http.StatusInternalServerError, paymentdomain.ErrProviderLookupFailed.Error()
	case errors.Is(err, portonedomain.ErrCredentialsMissing):
		return http.StatusInternalServerError, portonedomain.ErrCredentialsMissing.Error()
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, checkoutdomain.ErrInvalidBillingKey),
		errors.Is(err, checkoutdomain.ErrInvalidOrderName),
		errors.Is(err, checkoutdomain.ErrInvalidAmount),
		errors.Is(err, checkoutdomain.ErrInvalidCustomer):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, code := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", code
	case status == http.StatusNotFound:
		return "not_found", code
	case status == http.StatusConflict:
		return "conflict", code
	case status >= http.StatusBadRequest:
		return "client", code
	default:
		return "unknown", code
	}
}
