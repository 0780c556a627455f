package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidBillingKey = errors.New("invalid_billing_key")
	ErrInvalidOrderName  = errors.New("invalid_order_name")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCustomer   = errors.New("invalid_customer")
)

// ChargeRequest is a purchase intent against a stored billing key.
type ChargeRequest struct {
	BillingKey string `json:"billingKey"`
	OrderName  string `json:"orderName"`
	Amount     int64  `json:"amount"`
	CustomerID string `json:"customerId"`
}

// ChargeResult reports the provider-side payment id the charge was
// submitted under. Settlement arrives later through the webhook.
type ChargeResult struct {
	PaymentID string `json:"paymentId"`
}

type Service interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
