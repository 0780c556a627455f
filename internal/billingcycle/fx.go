package billingcycle

import (
	billingcycledomain "github.com/smallbiznis/rebill/internal/billingcycle/domain"
	"github.com/smallbiznis/rebill/internal/billingcycle/service"
	"github.com/smallbiznis/rebill/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(
		func(h *config.BillingPolicyHolder) billingcycledomain.PolicySource { return h },
		service.NewService,
	),
)
