package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	cycleservice "github.com/smallbiznis/rebill/internal/billingcycle/service"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/config"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/rebill/internal/ledger/repository"
	paymentdomain "github.com/smallbiznis/rebill/internal/payment/domain"
	portonedomain "github.com/smallbiznis/rebill/internal/portone/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticPolicySource struct {
	policy config.BillingPolicy
}

func (s *staticPolicySource) Get() config.BillingPolicy { return s.policy }

type fakeProvider struct {
	payment    *portonedomain.Payment
	paymentErr error

	scheduleErr  error
	scheduleReqs []portonedomain.ScheduleRequest

	schedules    []portonedomain.Schedule
	schedulesErr error
	listCalls    int
	listFrom     time.Time
	listUntil    time.Time

	deleteErr error
	deleted   [][]string

	getPaymentCalls int
}

func (f *fakeProvider) GetPayment(ctx context.Context, paymentID string) (*portonedomain.Payment, error) {
	f.getPaymentCalls++
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	return f.payment, nil
}

func (f *fakeProvider) ChargeBillingKey(ctx context.Context, req portonedomain.ChargeRequest) (*portonedomain.ChargeAck, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) CreateSchedule(ctx context.Context, req portonedomain.ScheduleRequest) (*portonedomain.ScheduleAck, error) {
	f.scheduleReqs = append(f.scheduleReqs, req)
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return &portonedomain.ScheduleAck{ScheduleID: req.ScheduleID}, nil
}

func (f *fakeProvider) ListSchedules(ctx context.Context, billingKey string, from, until time.Time) ([]portonedomain.Schedule, error) {
	f.listCalls++
	f.listFrom = from
	f.listUntil = until
	if f.schedulesErr != nil {
		return nil, f.schedulesErr
	}
	return f.schedules, nil
}

func (f *fakeProvider) DeleteSchedules(ctx context.Context, scheduleIDs []string) error {
	f.deleted = append(f.deleted, scheduleIDs)
	return f.deleteErr
}

type fixture struct {
	db       *gorm.DB
	svc      paymentdomain.Service
	repo     ledgerdomain.Repository
	provider *fakeProvider
	clock    *clock.FakeClock
}

func newFixture(t *testing.T, provider *fakeProvider) *fixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledgerdomain.Entry{}, &ledgerdomain.EventRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	policies := &staticPolicySource{policy: config.DefaultBillingPolicy()}
	cycles, err := cycleservice.NewService(cycleservice.Params{
		Log:      zap.NewNop(),
		Policies: policies,
		Rand:     rand.New(rand.NewSource(42)),
	})
	require.NoError(t, err)

	repo := ledgerrepo.Provide()
	fakeClock := clock.NewFakeClock(time.Date(2026, time.March, 10, 4, 30, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repo,
		Provider: provider,
		Cycles:   cycles,
		Policies: policies,
		Clock:    fakeClock,
	})

	return &fixture{db: conn, svc: svc, repo: repo, provider: provider, clock: fakeClock}
}

func paidPayment(billingKey string) *portonedomain.Payment {
	return &portonedomain.Payment{
		ID:         "pay_1",
		Amount:     portonedomain.Amount{Total: 9900},
		OrderName:  "Premium Monthly",
		BillingKey: billingKey,
		Customer:   portonedomain.Customer{ID: "cust_1"},
	}
}

func TestProcessWebhookPaid(t *testing.T) {
	f := newFixture(t, &fakeProvider{payment: paidPayment("bk_1")})
	ctx := context.Background()

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, ledgerdomain.StatusPaid, entry.Status)
	require.Equal(t, int64(9900), entry.Amount)
	require.Equal(t, "pay_1", entry.TransactionKey)
	require.NotEmpty(t, entry.NextScheduleID)
	require.Equal(t, 30*24*time.Hour, entry.EndAt.Sub(entry.StartAt))

	require.Len(t, f.provider.scheduleReqs, 1)
	req := f.provider.scheduleReqs[0]
	require.Equal(t, entry.NextScheduleID, req.ScheduleID)
	require.Equal(t, "bk_1", req.BillingKey)
	require.Equal(t, "Premium Monthly", req.OrderName)
	require.Equal(t, int64(9900), req.Amount)
	require.Equal(t, "cust_1", req.CustomerID)
	require.Equal(t, "KRW", req.Currency)
	require.Equal(t, entry.NextScheduleAt, req.TimeToPay)

	stored, err := f.repo.Find(ctx, f.db, "pay_1", ledgerdomain.StatusPaid)
	require.NoError(t, err)
	require.Equal(t, entry.ID, stored.ID)

	event, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderName, "pay_1", "Paid")
	require.NoError(t, err)
	require.NotNil(t, event)
	require.NotNil(t, event.ProcessedAt)
}

func TestProcessWebhookPaidWithoutBillingKey(t *testing.T) {
	f := newFixture(t, &fakeProvider{payment: paidPayment("")})
	ctx := context.Background()

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Empty(t, f.provider.scheduleReqs)
}

func TestProcessWebhookPaidScheduleFailureDegrades(t *testing.T) {
	f := newFixture(t, &fakeProvider{
		payment:     paidPayment("bk_1"),
		scheduleErr: portonedomain.ErrUnavailable,
	})
	ctx := context.Background()

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)
	require.NotNil(t, entry)

	stored, err := f.repo.Find(ctx, f.db, "pay_1", ledgerdomain.StatusPaid)
	require.NoError(t, err)
	require.Equal(t, entry.ID, stored.ID)
}

func TestProcessWebhookPaidLookupFailure(t *testing.T) {
	f := newFixture(t, &fakeProvider{paymentErr: portonedomain.ErrPaymentNotFound})
	ctx := context.Background()

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.ErrorIs(t, err, paymentdomain.ErrProviderLookupFailed)
	require.Nil(t, entry)

	_, err = f.repo.Find(ctx, f.db, "pay_1", ledgerdomain.StatusPaid)
	require.ErrorIs(t, err, ledgerdomain.ErrNotFound)

	// The failed attempt leaves the event row open for retry.
	event, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderName, "pay_1", "Paid")
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Nil(t, event.ProcessedAt)
}

func TestProcessWebhookPaidRetryAfterLookupFailure(t *testing.T) {
	provider := &fakeProvider{paymentErr: portonedomain.ErrUnavailable}
	f := newFixture(t, provider)
	ctx := context.Background()

	_, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.ErrorIs(t, err, paymentdomain.ErrProviderLookupFailed)

	provider.paymentErr = nil
	provider.payment = paidPayment("bk_1")

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, ledgerdomain.StatusPaid, entry.Status)
}

func TestProcessWebhookPaidReplay(t *testing.T) {
	f := newFixture(t, &fakeProvider{payment: paidPayment("bk_1")})
	ctx := context.Background()

	first, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)

	second, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)
	require.NotNil(t, second)
	require.Equal(t, first.ID, second.ID)

	require.Equal(t, 1, f.provider.getPaymentCalls)
	require.Len(t, f.provider.scheduleReqs, 1)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestProcessWebhookPaidDuplicateLedgerRow(t *testing.T) {
	f := newFixture(t, &fakeProvider{payment: paidPayment("bk_1")})
	ctx := context.Background()

	// A prior attempt committed the row but never marked the event
	// processed.
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	existing := &ledgerdomain.Entry{
		ID:             node.Generate(),
		TransactionKey: "pay_1",
		Amount:         9900,
		Status:         ledgerdomain.StatusPaid,
		StartAt:        f.clock.Now(),
		EndAt:          f.clock.Now().Add(30 * 24 * time.Hour),
		EndGraceAt:     f.clock.Now().Add(31 * 24 * time.Hour),
		NextScheduleAt: f.clock.Now().Add(31 * 24 * time.Hour),
		NextScheduleID: "sched_prior",
		CreatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.repo.Append(ctx, f.db, existing))

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, existing.ID, entry.ID)
}

func TestProcessWebhookCancelled(t *testing.T) {
	f := newFixture(t, &fakeProvider{payment: paidPayment("bk_1")})
	ctx := context.Background()

	paid, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)

	f.provider.schedules = []portonedomain.Schedule{
		{ID: "ps_other", PaymentID: "someone_else", TimeToPay: paid.NextScheduleAt},
		{ID: "ps_match", PaymentID: paid.NextScheduleID, TimeToPay: paid.NextScheduleAt},
	}
	f.clock.Advance(12 * 24 * time.Hour)

	cancel, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Cancelled"})
	require.NoError(t, err)
	require.NotNil(t, cancel)
	require.Equal(t, ledgerdomain.StatusCancel, cancel.Status)
	require.Equal(t, -paid.Amount, cancel.Amount)
	require.Equal(t, f.clock.Now(), cancel.CreatedAt)
	require.True(t, cancel.CreatedAt.After(paid.CreatedAt))
	require.Equal(t, paid.StartAt, cancel.StartAt)
	require.Equal(t, paid.EndAt, cancel.EndAt)
	require.Equal(t, paid.EndGraceAt, cancel.EndGraceAt)
	require.Equal(t, paid.NextScheduleAt, cancel.NextScheduleAt)
	require.Equal(t, paid.NextScheduleID, cancel.NextScheduleID)

	require.Equal(t, 1, f.provider.listCalls)
	require.Equal(t, paid.NextScheduleAt.Add(-24*time.Hour), f.provider.listFrom)
	require.Equal(t, paid.NextScheduleAt.Add(24*time.Hour), f.provider.listUntil)
	require.Equal(t, [][]string{{"ps_match"}}, f.provider.deleted)
}

func TestProcessWebhookCancelledNoActiveSubscription(t *testing.T) {
	f := newFixture(t, &fakeProvider{})
	ctx := context.Background()

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Cancelled"})
	require.ErrorIs(t, err, paymentdomain.ErrNoActiveSubscription)
	require.Nil(t, entry)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestProcessWebhookCancelledScheduleLookupFailureDegrades(t *testing.T) {
	f := newFixture(t, &fakeProvider{payment: paidPayment("bk_1")})
	ctx := context.Background()

	_, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)

	f.provider.schedulesErr = portonedomain.ErrUnavailable

	cancel, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Cancelled"})
	require.NoError(t, err)
	require.NotNil(t, cancel)
	require.Empty(t, f.provider.deleted)
}

func TestProcessWebhookCancelledNoMatchingSchedule(t *testing.T) {
	f := newFixture(t, &fakeProvider{payment: paidPayment("bk_1")})
	ctx := context.Background()

	_, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"})
	require.NoError(t, err)

	f.provider.schedules = []portonedomain.Schedule{
		{ID: "ps_other", PaymentID: "someone_else"},
	}

	cancel, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Cancelled"})
	require.NoError(t, err)
	require.NotNil(t, cancel)
	require.Empty(t, f.provider.deleted)
}

func TestProcessWebhookUnknownStatus(t *testing.T) {
	f := newFixture(t, &fakeProvider{})
	ctx := context.Background()

	entry, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "VirtualAccountIssued"})
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Zero(t, f.provider.getPaymentCalls)

	event, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderName, "pay_1", "VirtualAccountIssued")
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestProcessWebhookInvalidPayload(t *testing.T) {
	f := newFixture(t, &fakeProvider{})
	ctx := context.Background()

	_, err := f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "", Status: "Paid"})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = f.svc.ProcessWebhook(ctx, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "  "})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}
