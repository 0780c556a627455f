package domain

import (
	"context"
	"errors"

	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
)

// ProviderName keys webhook event records and redis lock keys.
const ProviderName = "portone"

// Webhook statuses the reconciler acts on. Anything else is
// acknowledged without a state change.
const (
	StatusPaid      = "Paid"
	StatusCancelled = "Cancelled"
)

var (
	ErrInvalidEvent          = errors.New("invalid_webhook_event")
	ErrNoActiveSubscription  = errors.New("no_active_subscription")
	ErrProviderLookupFailed  = errors.New("provider_lookup_failed")
	ErrEventAlreadyProcessed = errors.New("webhook_event_already_processed")
	ErrEventInFlight         = errors.New("webhook_event_in_flight")
)

// WebhookPayload is the provider's webhook body. PaymentID doubles as
// the ledger transaction key.
type WebhookPayload struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// Service reconciles webhook deliveries into ledger state.
//
// ProcessWebhook returns the ledger entry the delivery settled on, or
// nil for statuses that carry no state change. A replayed delivery
// returns the previously written entry with ErrEventAlreadyProcessed.
type Service interface {
	ProcessWebhook(ctx context.Context, payload WebhookPayload) (*ledgerdomain.Entry, error)
}
