package domain

import "time"

// Amount mirrors the provider's nested amount object.
type Amount struct {
	Total int64 `json:"total"`
}

type Customer struct {
	ID string `json:"id"`
}

// Payment is the provider's view of a single payment.
type Payment struct {
	ID         string   `json:"id"`
	Amount     Amount   `json:"amount"`
	OrderName  string   `json:"orderName"`
	BillingKey string   `json:"billingKey,omitempty"`
	Customer   Customer `json:"customer"`
}

// HasBillingKey reports whether the payment was made with a saved
// payment method and can therefore auto-renew.
func (p *Payment) HasBillingKey() bool {
	return p != nil && p.BillingKey != ""
}

// ChargeRequest initiates an immediate charge against a billing key.
// PaymentID is chosen by the caller before the provider call.
type ChargeRequest struct {
	PaymentID  string
	BillingKey string
	OrderName  string
	Amount     int64
	CustomerID string
	Currency   string
}

type ChargeAck struct {
	PaymentID string
}

// ScheduleRequest registers a future charge under ScheduleID, which the
// provider treats as the new payment's identifier.
type ScheduleRequest struct {
	ScheduleID string
	BillingKey string
	OrderName  string
	Amount     int64
	CustomerID string
	Currency   string
	TimeToPay  time.Time
}

type ScheduleAck struct {
	ScheduleID string
}

// Schedule is a provider-side pending charge registration.
type Schedule struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"paymentId"`
	TimeToPay time.Time `json:"timeToPay"`
}
