package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	billingcycledomain "github.com/smallbiznis/rebill/internal/billingcycle/domain"
	checkoutdomain "github.com/smallbiznis/rebill/internal/checkout/domain"
	portonedomain "github.com/smallbiznis/rebill/internal/portone/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Provider portonedomain.Client
	Policies billingcycledomain.PolicySource
}

type Service struct {
	log      *zap.Logger
	provider portonedomain.Client
	policies billingcycledomain.PolicySource
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		log:      p.Log.Named("checkout.service"),
		provider: p.Provider,
		policies: p.Policies,
	}
}

// Charge submits an immediate billing-key charge under a fresh payment
// id. The ledger is untouched here; the provider's webhook settles the
// payment later.
func (s *Service) Charge(ctx context.Context, req checkoutdomain.ChargeRequest) (*checkoutdomain.ChargeResult, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	paymentID := uuid.NewString()
	ack, err := s.provider.ChargeBillingKey(ctx, portonedomain.ChargeRequest{
		PaymentID:  paymentID,
		BillingKey: req.BillingKey,
		OrderName:  req.OrderName,
		Amount:     req.Amount,
		CustomerID: req.CustomerID,
		Currency:   s.policies.Get().Currency,
	})
	if err != nil {
		s.log.Warn("billing key charge failed",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("billing key charge submitted",
		zap.String("payment_id", ack.PaymentID),
	)
	return &checkoutdomain.ChargeResult{PaymentID: ack.PaymentID}, nil
}

func validate(req *checkoutdomain.ChargeRequest) error {
	req.BillingKey = strings.TrimSpace(req.BillingKey)
	if req.BillingKey == "" {
		return checkoutdomain.ErrInvalidBillingKey
	}
	req.OrderName = strings.TrimSpace(req.OrderName)
	if req.OrderName == "" {
		return checkoutdomain.ErrInvalidOrderName
	}
	if req.Amount <= 0 {
		return checkoutdomain.ErrInvalidAmount
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		return checkoutdomain.ErrInvalidCustomer
	}
	return nil
}
