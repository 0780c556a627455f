package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	billingcycledomain "github.com/smallbiznis/rebill/internal/billingcycle/domain"
	"github.com/smallbiznis/rebill/internal/clock"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/rebill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rebill/internal/payment/domain"
	portonedomain "github.com/smallbiznis/rebill/internal/portone/domain"
	"github.com/smallbiznis/rebill/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	lockTTL = 30 * time.Second
	// scheduleLookupWindow bounds the provider-side schedule search to
	// one calendar day either side of the recorded renewal time.
	scheduleLookupWindow = 24 * time.Hour
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Provider   portonedomain.Client
	Cycles     billingcycledomain.Service
	Policies   billingcycledomain.PolicySource
	Clock      clock.Clock
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	provider   portonedomain.Client
	cycles     billingcycledomain.Service
	policies   billingcycledomain.PolicySource
	clock      clock.Clock
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		provider:   p.Provider,
		cycles:     p.Cycles,
		policies:   p.Policies,
		clock:      p.Clock,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ProcessWebhook(ctx context.Context, payload paymentdomain.WebhookPayload) (*ledgerdomain.Entry, error) {
	payload.PaymentID = strings.TrimSpace(payload.PaymentID)
	payload.Status = strings.TrimSpace(payload.Status)
	if payload.PaymentID == "" || payload.Status == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch payload.Status {
	case paymentdomain.StatusPaid, paymentdomain.StatusCancelled:
	default:
		// Statuses this service does not settle are acknowledged so
		// the provider stops redelivering them.
		s.log.Info("ignoring webhook status",
			zap.String("payment_id", payload.PaymentID),
			zap.String("status", payload.Status),
		)
		s.recordWebhookEvent(ctx, payload.Status, "ignored")
		return nil, nil
	}

	now := s.clock.Now()
	stored, replayed, err := s.recordDelivery(ctx, payload, now)
	if err != nil {
		return nil, err
	}
	if replayed {
		entry, findErr := s.findSettled(ctx, payload)
		if findErr != nil {
			return nil, findErr
		}
		s.recordWebhookEvent(ctx, payload.Status, "replayed")
		return entry, paymentdomain.ErrEventAlreadyProcessed
	}

	release, err := s.acquireLock(ctx, payload.PaymentID)
	if err != nil {
		return nil, err
	}
	defer release()

	var entry *ledgerdomain.Entry
	switch payload.Status {
	case paymentdomain.StatusPaid:
		entry, err = s.settlePaid(ctx, payload.PaymentID, now)
	case paymentdomain.StatusCancelled:
		entry, err = s.settleCancelled(ctx, payload.PaymentID, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return nil, err
	}

	s.recordWebhookEvent(ctx, payload.Status, "processed")
	return entry, nil
}

// recordDelivery inserts the dedup row for this webhook. A replay is a
// delivery whose row already exists and was fully processed; a row that
// exists but was never marked processed belongs to a failed attempt and
// is retried.
func (s *Service) recordDelivery(ctx context.Context, payload paymentdomain.WebhookPayload, now time.Time) (*ledgerdomain.EventRecord, bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, paymentdomain.ErrInvalidEvent
	}

	received := ledgerdomain.EventRecord{
		ID:             s.genID.Generate(),
		Provider:       paymentdomain.ProviderName,
		TransactionKey: payload.PaymentID,
		EventType:      payload.Status,
		Payload:        datatypes.JSON(raw),
		ReceivedAt:     now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return &received, false, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, received.Provider, received.TransactionKey, received.EventType)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, paymentdomain.ErrInvalidEvent
	}
	if stored.ProcessedAt != nil {
		return stored, true, nil
	}
	return stored, false, nil
}

func (s *Service) findSettled(ctx context.Context, payload paymentdomain.WebhookPayload) (*ledgerdomain.Entry, error) {
	status := ledgerdomain.StatusPaid
	if payload.Status == paymentdomain.StatusCancelled {
		status = ledgerdomain.StatusCancel
	}
	entry, err := s.repo.Find(ctx, s.db, payload.PaymentID, status)
	if errors.Is(err, ledgerdomain.ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

// acquireLock serializes concurrent deliveries for one payment. When
// redis is not configured, or errors, processing continues unlocked and
// the unique indexes remain the correctness guard.
func (s *Service) acquireLock(ctx context.Context, paymentID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := ratelimit.WebhookKey(paymentdomain.ProviderName, paymentID)
	token, ok, err := s.locker.TryLock(ctx, key, lockTTL)
	if err != nil {
		s.log.Warn("webhook lock unavailable, continuing unlocked",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return func() {}, nil
	}
	if !ok {
		return nil, paymentdomain.ErrEventInFlight
	}
	return func() {
		if releaseErr := s.locker.Release(context.WithoutCancel(ctx), key, token); releaseErr != nil {
			s.log.Warn("failed to release webhook lock",
				zap.String("payment_id", paymentID),
				zap.Error(releaseErr),
			)
		}
	}, nil
}

func (s *Service) settlePaid(ctx context.Context, paymentID string, now time.Time) (*ledgerdomain.Entry, error) {
	payment, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		s.log.Error("payment lookup failed",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		s.recordProviderCall(ctx, "get_payment", "error")
		return nil, paymentdomain.ErrProviderLookupFailed
	}
	s.recordProviderCall(ctx, "get_payment", "ok")

	plan, err := s.cycles.PlanCycle(now)
	if err != nil {
		return nil, err
	}

	entry := &ledgerdomain.Entry{
		ID:             s.genID.Generate(),
		TransactionKey: paymentID,
		Amount:         payment.Amount.Total,
		Status:         ledgerdomain.StatusPaid,
		StartAt:        plan.StartAt,
		EndAt:          plan.EndAt,
		EndGraceAt:     plan.EndGraceAt,
		NextScheduleAt: plan.NextScheduleAt,
		NextScheduleID: uuid.NewString(),
		CreatedAt:      now,
	}

	if err := s.repo.Append(ctx, s.db, entry); err != nil {
		if errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
			return s.repo.Find(ctx, s.db, paymentID, ledgerdomain.StatusPaid)
		}
		return nil, err
	}
	s.recordLedgerEntry(ctx, string(ledgerdomain.StatusPaid))

	if payment.HasBillingKey() {
		s.registerRenewal(ctx, payment, entry)
	} else {
		s.log.Info("payment has no billing key, skipping renewal schedule",
			zap.String("payment_id", paymentID),
		)
	}

	return entry, nil
}

// registerRenewal asks the provider to charge the billing key again at
// the planned renewal time. The ledger row is already committed, so a
// failure here degrades auto-renewal without failing the webhook.
func (s *Service) registerRenewal(ctx context.Context, payment *portonedomain.Payment, entry *ledgerdomain.Entry) {
	req := portonedomain.ScheduleRequest{
		ScheduleID: entry.NextScheduleID,
		BillingKey: payment.BillingKey,
		OrderName:  payment.OrderName,
		Amount:     payment.Amount.Total,
		CustomerID: payment.Customer.ID,
		Currency:   s.policies.Get().Currency,
		TimeToPay:  entry.NextScheduleAt,
	}

	if _, err := s.provider.CreateSchedule(ctx, req); err != nil {
		s.log.Error("failed to register renewal schedule",
			zap.String("payment_id", entry.TransactionKey),
			zap.String("schedule_id", entry.NextScheduleID),
			zap.Error(err),
		)
		s.recordProviderCall(ctx, "create_schedule", "error")
		if s.obsMetrics != nil {
			s.obsMetrics.RecordScheduleDegraded(ctx)
		}
		return
	}
	s.recordProviderCall(ctx, "create_schedule", "ok")
}

func (s *Service) settleCancelled(ctx context.Context, paymentID string, now time.Time) (*ledgerdomain.Entry, error) {
	active, err := s.repo.LatestPaid(ctx, s.db, paymentID)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrNotFound) {
			return nil, paymentdomain.ErrNoActiveSubscription
		}
		return nil, err
	}

	// The compensating row negates the amount and copies the period and
	// schedule fields so the cancelled period stays auditable on its own.
	entry := &ledgerdomain.Entry{
		ID:             s.genID.Generate(),
		TransactionKey: paymentID,
		Amount:         -active.Amount,
		Status:         ledgerdomain.StatusCancel,
		StartAt:        active.StartAt,
		EndAt:          active.EndAt,
		EndGraceAt:     active.EndGraceAt,
		NextScheduleAt: active.NextScheduleAt,
		NextScheduleID: active.NextScheduleID,
		CreatedAt:      now,
	}

	if err := s.repo.Append(ctx, s.db, entry); err != nil {
		if errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
			return s.repo.Find(ctx, s.db, paymentID, ledgerdomain.StatusCancel)
		}
		return nil, err
	}
	s.recordLedgerEntry(ctx, string(ledgerdomain.StatusCancel))

	s.revokeRenewal(ctx, paymentID, active)

	return entry, nil
}

// revokeRenewal best-effort deletes the provider-side schedule recorded
// on the cancelled period. The Cancel row is already committed; any
// failure here is logged and the webhook still succeeds.
func (s *Service) revokeRenewal(ctx context.Context, paymentID string, active *ledgerdomain.Entry) {
	if active.NextScheduleID == "" {
		return
	}

	payment, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		s.logRevokeFailure(paymentID, "get_payment", err)
		return
	}
	if !payment.HasBillingKey() {
		return
	}

	from := active.NextScheduleAt.Add(-scheduleLookupWindow)
	until := active.NextScheduleAt.Add(scheduleLookupWindow)
	schedules, err := s.provider.ListSchedules(ctx, payment.BillingKey, from, until)
	if err != nil {
		s.logRevokeFailure(paymentID, "list_schedules", err)
		return
	}

	for _, schedule := range schedules {
		if schedule.PaymentID != active.NextScheduleID {
			continue
		}
		if err := s.provider.DeleteSchedules(ctx, []string{schedule.ID}); err != nil {
			s.logRevokeFailure(paymentID, "delete_schedules", err)
			return
		}
		s.recordProviderCall(ctx, "delete_schedules", "ok")
		return
	}
}

func (s *Service) logRevokeFailure(paymentID, operation string, err error) {
	s.log.Error("failed to revoke renewal schedule",
		zap.String("payment_id", paymentID),
		zap.String("operation", operation),
		zap.Error(err),
	)
}

func (s *Service) recordWebhookEvent(ctx context.Context, eventType, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, eventType, result)
	}
}

func (s *Service) recordLedgerEntry(ctx context.Context, status string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, status)
	}
}

func (s *Service) recordProviderCall(ctx context.Context, operation, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordProviderCall(ctx, operation, result)
	}
}
