package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client wraps the outbound PortOne REST API. All failures come back as
// values; callers decide whether a failure aborts or degrades.
type Client interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	ChargeBillingKey(ctx context.Context, req ChargeRequest) (*ChargeAck, error)
	CreateSchedule(ctx context.Context, req ScheduleRequest) (*ScheduleAck, error)
	ListSchedules(ctx context.Context, billingKey string, from, until time.Time) ([]Schedule, error)
	DeleteSchedules(ctx context.Context, scheduleIDs []string) error
}

var (
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrUnauthorized       = errors.New("provider_unauthorized")
	ErrUnavailable        = errors.New("provider_unavailable")
	ErrCredentialsMissing = errors.New("provider_credentials_missing")
)

// UnexpectedStatusError reports a non-success HTTP status that does not
// map onto a known error kind.
type UnexpectedStatusError struct {
	Operation string
	Status    int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("portone %s: unexpected status %d", e.Operation, e.Status)
}

// RejectedError carries a provider rejection of a charge attempt. The
// HTTP layer forwards Status to the caller.
type RejectedError struct {
	Operation string
	Status    int
	Body      string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("portone %s: rejected with status %d", e.Operation, e.Status)
}
