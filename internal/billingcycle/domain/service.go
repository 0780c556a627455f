package domain

import (
	"errors"
	"time"

	"github.com/smallbiznis/rebill/internal/config"
)

// PolicySource yields the current billing policy. The config holder
// satisfies it; tests substitute a static source.
type PolicySource interface {
	Get() config.BillingPolicy
}

type Service interface {
	// PlanCycle computes the period bounds, grace deadline and next
	// schedule instant anchored at the moment a charge was confirmed.
	PlanCycle(reference time.Time) (CyclePlan, error)
}

var ErrInvalidPolicy = errors.New("invalid_billing_policy")
