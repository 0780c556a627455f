package portone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/rebill/internal/config"
	"github.com/smallbiznis/rebill/internal/portone/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Client talks to the PortOne v2 REST API.
type Client struct {
	baseURL      string
	apiSecret    string
	credentialed bool
	httpClient   *http.Client
	log          *zap.Logger
}

func NewClient(p Params) domain.Client {
	timeout := p.Cfg.PortOneTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(p.Cfg.PortOneAPIBase, "/"),
		apiSecret:    p.Cfg.PortOneAPISecret,
		credentialed: p.Cfg.HasProviderCredentials(),
		httpClient:   &http.Client{Timeout: timeout},
		log:          p.Log.Named("portone.client"),
	}
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	endpoint := fmt.Sprintf("%s/payments/%s", c.baseURL, url.PathEscape(paymentID))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.classify("get_payment", resp); err != nil {
		return nil, err
	}

	var payment domain.Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", paymentID, err)
	}
	return &payment, nil
}

func (c *Client) ChargeBillingKey(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeAck, error) {
	endpoint := fmt.Sprintf("%s/payments/%s/billing-key", c.baseURL, url.PathEscape(req.PaymentID))
	body := map[string]any{
		"billingKey": req.BillingKey,
		"orderName":  req.OrderName,
		"amount":     map[string]any{"total": req.Amount},
		"customer":   map[string]any{"id": req.CustomerID},
		"currency":   req.Currency,
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.RejectedError{
			Operation: "charge_billing_key",
			Status:    resp.StatusCode,
			Body:      string(raw),
		}
	}

	return &domain.ChargeAck{PaymentID: req.PaymentID}, nil
}

func (c *Client) CreateSchedule(ctx context.Context, req domain.ScheduleRequest) (*domain.ScheduleAck, error) {
	endpoint := fmt.Sprintf("%s/payments/%s/schedule", c.baseURL, url.PathEscape(req.ScheduleID))
	body := map[string]any{
		"payment": map[string]any{
			"billingKey": req.BillingKey,
			"orderName":  req.OrderName,
			"customer":   map[string]any{"id": req.CustomerID},
			"amount":     map[string]any{"total": req.Amount},
			"currency":   req.Currency,
		},
		"timeToPay": req.TimeToPay.UTC().Format(time.RFC3339),
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.classify("create_schedule", resp); err != nil {
		return nil, err
	}
	return &domain.ScheduleAck{ScheduleID: req.ScheduleID}, nil
}

// ListSchedules filters provider schedules by billing key and time
// window. The provider expects the filter in a GET request body.
func (c *Client) ListSchedules(ctx context.Context, billingKey string, from, until time.Time) ([]domain.Schedule, error) {
	endpoint := c.baseURL + "/payment-schedules"
	body := map[string]any{
		"filter": map[string]any{
			"billingKey": billingKey,
			"from":       from.UTC().Format(time.RFC3339),
			"until":      until.UTC().Format(time.RFC3339),
		},
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.classify("list_schedules", resp); err != nil {
		return nil, err
	}

	var payload struct {
		Items []domain.Schedule `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode schedule list: %w", err)
	}
	return payload.Items, nil
}

func (c *Client) DeleteSchedules(ctx context.Context, scheduleIDs []string) error {
	if len(scheduleIDs) == 0 {
		return nil
	}
	endpoint := c.baseURL + "/payment-schedules"
	body := map[string]any{"scheduleIds": scheduleIDs}

	resp, err := c.do(ctx, http.MethodDelete, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.classify("delete_schedules", resp)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if !c.credentialed {
		return nil, domain.ErrCredentialsMissing
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "PortOne "+c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network and timeout failures are all retriable from the
		// caller's point of view.
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUnavailable, method, endpoint, err)
	}
	return resp, nil
}

func (c *Client) classify(operation string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrPaymentNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d", domain.ErrUnavailable, operation, resp.StatusCode)
	default:
		return &domain.UnexpectedStatusError{Operation: operation, Status: resp.StatusCode}
	}
}
