package service

import (
	"math/rand"
	"sync"
	"time"

	billingcycledomain "github.com/smallbiznis/rebill/internal/billingcycle/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Policies billingcycledomain.PolicySource
	Rand     *rand.Rand `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	policies billingcycledomain.PolicySource

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewService(p Params) (billingcycledomain.Service, error) {
	if p.Policies == nil {
		return nil, billingcycledomain.ErrInvalidPolicy
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		log:      p.Log.Named("billingcycle.service"),
		policies: p.Policies,
		rnd:      rnd,
	}, nil
}

// PlanCycle anchors the period at reference and derives the grace and
// next-schedule instants in the billing timezone before normalizing
// everything back to UTC.
func (s *Service) PlanCycle(reference time.Time) (billingcycledomain.CyclePlan, error) {
	policy := s.policies.Get()
	windowHours := policy.ScheduleWindowEndHour - policy.ScheduleWindowStartHour
	if policy.PeriodDays <= 0 || policy.GraceDays <= 0 || windowHours <= 0 {
		return billingcycledomain.CyclePlan{}, billingcycledomain.ErrInvalidPolicy
	}

	zone := time.FixedZone("billing", policy.TimezoneOffsetHours*3600)

	startAt := reference.UTC()
	endAt := startAt.Add(time.Duration(policy.PeriodDays) * 24 * time.Hour)

	// The grace deadline and the schedule slot live on the same local
	// calendar day: GraceDays after the local day the period ends.
	endLocal := endAt.In(zone).AddDate(0, 0, policy.GraceDays)
	year, month, day := endLocal.Date()

	endGraceAt := time.Date(year, month, day, 23, 59, 59, 0, zone).UTC()

	windowStart := time.Date(year, month, day, policy.ScheduleWindowStartHour, 0, 0, 0, zone)
	nextScheduleAt := windowStart.Add(time.Duration(s.intn(windowHours*3600)) * time.Second).UTC()

	return billingcycledomain.CyclePlan{
		StartAt:        startAt,
		EndAt:          endAt,
		EndGraceAt:     endGraceAt,
		NextScheduleAt: nextScheduleAt,
	}, nil
}

func (s *Service) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}
