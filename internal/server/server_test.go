package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/rebill/internal/checkout/domain"
	"github.com/smallbiznis/rebill/internal/config"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/rebill/internal/payment/domain"
	portonedomain "github.com/smallbiznis/rebill/internal/portone/domain"
	"github.com/stretchr/testify/require"
)

type fakePaymentService struct {
	entry *ledgerdomain.Entry
	err   error

	payloads []paymentdomain.WebhookPayload
}

func (f *fakePaymentService) ProcessWebhook(ctx context.Context, payload paymentdomain.WebhookPayload) (*ledgerdomain.Entry, error) {
	f.payloads = append(f.payloads, payload)
	return f.entry, f.err
}

type fakeCheckoutService struct {
	result *checkoutdomain.ChargeResult
	err    error

	requests []checkoutdomain.ChargeRequest
}

func (f *fakeCheckoutService) Charge(ctx context.Context, req checkoutdomain.ChargeRequest) (*checkoutdomain.ChargeResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestServer(t *testing.T, paymentSvc paymentdomain.Service, checkoutSvc checkoutdomain.Service) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	return NewServer(ServerParams{
		Gin:         engine,
		Cfg:         config.Config{},
		PaymentSvc:  paymentSvc,
		CheckoutSvc: checkoutSvc,
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func sampleEntry(t *testing.T) *ledgerdomain.Entry {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Now().UTC()
	return &ledgerdomain.Entry{
		ID:             node.Generate(),
		TransactionKey: "pay_1",
		Amount:         9900,
		Status:         ledgerdomain.StatusPaid,
		StartAt:        now,
		EndAt:          now.Add(30 * 24 * time.Hour),
		EndGraceAt:     now.Add(31 * 24 * time.Hour),
		NextScheduleAt: now.Add(31 * 24 * time.Hour),
		NextScheduleID: "sched_1",
		CreatedAt:      now,
	}
}

func TestHandlePortOneWebhook(t *testing.T) {
	paymentSvc := &fakePaymentService{entry: sampleEntry(t)}
	srv := newTestServer(t, paymentSvc, &fakeCheckoutService{})

	rec := doJSON(t, srv, http.MethodPost, "/api/portone/webhook", gin.H{
		"payment_id": "pay_1",
		"status":     "Paid",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool                `json:"success"`
		Message string              `json:"message"`
		Payment *ledgerdomain.Entry `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.NotNil(t, body.Payment)
	require.Equal(t, "pay_1", body.Payment.TransactionKey)

	require.Len(t, paymentSvc.payloads, 1)
	require.Equal(t, paymentdomain.WebhookPayload{PaymentID: "pay_1", Status: "Paid"}, paymentSvc.payloads[0])
}

func TestHandlePortOneWebhookInvalidBody(t *testing.T) {
	paymentSvc := &fakePaymentService{}
	srv := newTestServer(t, paymentSvc, &fakeCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/api/portone/webhook", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, paymentSvc.payloads)
}

func TestHandlePortOneWebhookMissingFields(t *testing.T) {
	paymentSvc := &fakePaymentService{}
	srv := newTestServer(t, paymentSvc, &fakeCheckoutService{})

	for _, body := range []gin.H{
		{"status": "Paid"},
		{"payment_id": "pay_1"},
		{"payment_id": "  ", "status": "Paid"},
	} {
		rec := doJSON(t, srv, http.MethodPost, "/api/portone/webhook", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.False(t, resp.Success)
		require.NotEmpty(t, resp.Error)
	}
	require.Empty(t, paymentSvc.payloads)
}

func TestHandlePortOneWebhookNoActiveSubscription(t *testing.T) {
	paymentSvc := &fakePaymentService{err: paymentdomain.ErrNoActiveSubscription}
	srv := newTestServer(t, paymentSvc, &fakeCheckoutService{})

	rec := doJSON(t, srv, http.MethodPost, "/api/portone/webhook", gin.H{
		"payment_id": "pay_1",
		"status":     "Cancelled",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "no_active_subscription", resp.Error)
}

func TestHandlePortOneWebhookReplay(t *testing.T) {
	paymentSvc := &fakePaymentService{
		entry: sampleEntry(t),
		err:   paymentdomain.ErrEventAlreadyProcessed,
	}
	srv := newTestServer(t, paymentSvc, &fakeCheckoutService{})

	rec := doJSON(t, srv, http.MethodPost, "/api/portone/webhook", gin.H{
		"payment_id": "pay_1",
		"status":     "Paid",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "event already processed", body.Message)
}

func TestHandlePortOneWebhookLookupFailure(t *testing.T) {
	paymentSvc := &fakePaymentService{err: paymentdomain.ErrProviderLookupFailed}
	srv := newTestServer(t, paymentSvc, &fakeCheckoutService{})

	rec := doJSON(t, srv, http.MethodPost, "/api/portone/webhook", gin.H{
		"payment_id": "pay_1",
		"status":     "Paid",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "provider_lookup_failed", resp.Error)
}

func TestCreatePayment(t *testing.T) {
	checkoutSvc := &fakeCheckoutService{result: &checkoutdomain.ChargeResult{PaymentID: "pay_new"}}
	srv := newTestServer(t, &fakePaymentService{}, checkoutSvc)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments", gin.H{
		"billingKey": "bk_1",
		"orderName":  "Premium Monthly",
		"amount":     9900,
		"customer":   gin.H{"id": "cust_1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success   bool   `json:"success"`
		PaymentID string `json:"paymentId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "pay_new", body.PaymentID)

	require.Len(t, checkoutSvc.requests, 1)
	require.Equal(t, checkoutdomain.ChargeRequest{
		BillingKey: "bk_1",
		OrderName:  "Premium Monthly",
		Amount:     9900,
		CustomerID: "cust_1",
	}, checkoutSvc.requests[0])
}

func TestCreatePaymentValidationFailure(t *testing.T) {
	checkoutSvc := &fakeCheckoutService{err: checkoutdomain.ErrInvalidAmount}
	srv := newTestServer(t, &fakePaymentService{}, checkoutSvc)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments", gin.H{
		"billingKey": "bk_1",
		"orderName":  "Premium Monthly",
		"amount":     0,
		"customer":   gin.H{"id": "cust_1"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "invalid_amount", resp.Error)
}

func TestCreatePaymentRejectionForwardsStatus(t *testing.T) {
	checkoutSvc := &fakeCheckoutService{
		err: &portonedomain.RejectedError{Operation: "charge_billing_key", Status: http.StatusPaymentRequired},
	}
	srv := newTestServer(t, &fakePaymentService{}, checkoutSvc)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments", gin.H{
		"billingKey": "bk_1",
		"orderName":  "Premium Monthly",
		"amount":     9900,
		"customer":   gin.H{"id": "cust_1"},
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "charge_rejected", resp.Error)
}

func TestCreatePaymentCredentialsMissing(t *testing.T) {
	checkoutSvc := &fakeCheckoutService{err: portonedomain.ErrCredentialsMissing}
	srv := newTestServer(t, &fakePaymentService{}, checkoutSvc)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments", gin.H{
		"billingKey": "bk_1",
		"orderName":  "Premium Monthly",
		"amount":     9900,
		"customer":   gin.H{"id": "cust_1"},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
