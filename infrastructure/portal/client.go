package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/johncarlo20/growlink-sub002/config"
	"github.com/johncarlo20/growlink-sub002/domain/entity"
	"github.com/johncarlo20/growlink-sub002/domain/service"
)

// Client talks to the portal backend billing API. All calls go through a
// circuit breaker; transport failures trip it, while 4xx validation
// responses do not (the backend is healthy, the input is not).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a portal API client from configuration.
func NewClient(cfg *config.PortalAPIConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("portal_api")

	settings := gobreaker.Settings{
		Name:    "portal-billing-api",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		logger:     logger,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// CreateCustomer registers a new billing customer for the organization and
// returns the gateway customer id the backend stored.
func (c *Client) CreateCustomer(ctx context.Context, orgID string, profile *entity.CustomerBillingProfile) (string, error) {
	var out struct {
		CustomerID string `json:"customer_id"`
	}
	path := fmt.Sprintf("/api/billing/organizations/%s/customer", url.PathEscape(orgID))
	if err := c.do(ctx, http.MethodPost, path, profile, &out); err != nil {
		return "", err
	}
	return out.CustomerID, nil
}

// GetBillingProfile fetches the contact and address details the backend has
// on record for the organization.
func (c *Client) GetBillingProfile(ctx context.Context, orgID string) (*entity.CustomerBillingProfile, error) {
	var out entity.CustomerBillingProfile
	path := fmt.Sprintf("/api/billing/organizations/%s/profile", url.PathEscape(orgID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	out.Kind = entity.ProfileKindExisting
	return &out, nil
}

// CreateSubscription starts a subscription for the organization using the
// given tokenized payment method.
func (c *Client) CreateSubscription(ctx context.Context, orgID, paymentMethodID string) (*service.SubscriptionResult, error) {
	return c.submitSubscription(ctx, http.MethodPost, orgID, paymentMethodID)
}

// UpdateSubscription replaces the payment method on the organization's
// existing subscription.
func (c *Client) UpdateSubscription(ctx context.Context, orgID, paymentMethodID string) (*service.SubscriptionResult, error) {
	return c.submitSubscription(ctx, http.MethodPut, orgID, paymentMethodID)
}

func (c *Client) submitSubscription(ctx context.Context, method, orgID, paymentMethodID string) (*service.SubscriptionResult, error) {
	body := struct {
		PaymentMethodID string `json:"payment_method_id"`
	}{PaymentMethodID: paymentMethodID}

	var out subscriptionResultDTO
	path := fmt.Sprintf("/api/billing/organizations/%s/subscription", url.PathEscape(orgID))
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return out.toResult(), nil
}

// GetActiveSubscription fetches the organization's current subscription
// snapshot.
func (c *Client) GetActiveSubscription(ctx context.Context, orgID string) (*entity.SubscriptionSnapshot, error) {
	var out snapshotDTO
	path := fmt.Sprintf("/api/billing/organizations/%s/subscription/active", url.PathEscape(orgID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.toSnapshot(), nil
}

// GetBillingHistory fetches one page of the organization's invoice history.
func (c *Client) GetBillingHistory(ctx context.Context, orgID string, page int) ([]entity.InvoiceRecord, error) {
	var out struct {
		Invoices []invoiceDTO `json:"invoices"`
	}
	path := fmt.Sprintf("/api/billing/organizations/%s/invoices?page=%s",
		url.PathEscape(orgID), strconv.Itoa(page))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	records := make([]entity.InvoiceRecord, 0, len(out.Invoices))
	for _, dto := range out.Invoices {
		records = append(records, dto.toRecord())
	}
	return records, nil
}

// apiResponse carries a response out of the breaker so only transport
// problems count as breaker failures.
type apiResponse struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	op := method + " " + path

	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &entity.TransportError{Op: op, StatusCode: resp.StatusCode}
		}
		return &apiResponse{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &entity.TransportError{Op: op, Err: err}
		}
		var terr *entity.TransportError
		if errors.As(err, &terr) {
			return err
		}
		return &entity.TransportError{Op: op, Err: err}
	}

	resp := raw.(*apiResponse)
	switch {
	case resp.status >= http.StatusOK && resp.status < http.StatusMultipleChoices:
		if out != nil && len(resp.body) > 0 {
			if err := json.Unmarshal(resp.body, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", op, err)
			}
		}
		return nil

	case resp.status == http.StatusBadRequest:
		if verr := parseValidationError(resp.body); verr != nil {
			return verr
		}
		return &entity.TransportError{Op: op, StatusCode: resp.status}

	case resp.status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, entity.ErrOrganizationNotFound)

	default:
		c.logger.Warn("unexpected portal API status",
			zap.String("op", op),
			zap.Int("status", resp.status),
		)
		return &entity.TransportError{Op: op, StatusCode: resp.status}
	}
}

// parseValidationError decodes the backend's structured field-validation
// payload. Returns nil when the body does not carry one.
func parseValidationError(body []byte) *entity.ValidationError {
	var payload struct {
		ModelState map[string][]string `json:"modelState"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.ModelState) == 0 {
		return nil
	}
	return &entity.ValidationError{Fields: payload.ModelState}
}

// --- wire DTOs ---

type intentDTO struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

type subscriptionResultDTO struct {
	ID            string `json:"id"`
	LatestInvoice *struct {
		PaymentIntent *intentDTO `json:"payment_intent"`
	} `json:"latest_invoice"`
}

func (d *subscriptionResultDTO) toResult() *service.SubscriptionResult {
	result := &service.SubscriptionResult{SubscriptionID: d.ID}
	if d.LatestInvoice != nil && d.LatestInvoice.PaymentIntent != nil {
		pi := d.LatestInvoice.PaymentIntent
		result.LatestIntent = &service.PaymentIntent{
			ID:           pi.ID,
			Status:       service.IntentStatus(pi.Status),
			ClientSecret: pi.ClientSecret,
		}
	}
	return result
}

type planSubscriptionDTO struct {
	PlanKey               string `json:"plan_key"`
	BillingPeriodType     string `json:"billing_period_type"`
	GatewaySubscriptionID string `json:"gateway_subscription_id"`
	Quantity              int    `json:"quantity"`
}

type snapshotDTO struct {
	NextBillingDate   string                `json:"next_billing_date"`
	NextBillingAmount int64                 `json:"next_billing_amount_cents"`
	Currency          string                `json:"currency"`
	PaymentType       string                `json:"payment_type"`
	CardBrand         string                `json:"card_brand"`
	CardLast4         *string               `json:"card_last4"`
	CardExpiry        *string               `json:"card_expiry"`
	IsLockedOut       bool                  `json:"is_locked_out"`
	Subscriptions     []planSubscriptionDTO `json:"active_subscriptions"`
	PriceDetails      map[string]string     `json:"price_details_by_plan"`
}

func (d *snapshotDTO) toSnapshot() *entity.SubscriptionSnapshot {
	snapshot := &entity.SubscriptionSnapshot{
		NextBillingAmount:  entity.Money{Cents: d.NextBillingAmount, Currency: d.Currency},
		PaymentType:        d.PaymentType,
		CardBrand:          d.CardBrand,
		CardLast4:          d.CardLast4,
		CardExpiry:         d.CardExpiry,
		IsLockedOut:        d.IsLockedOut,
		PriceDetailsByPlan: d.PriceDetails,
	}
	// An absent or unparsable date leaves NextBillingDate nil, which the
	// status deriver reports as "no expiry".
	if d.NextBillingDate != "" {
		if t, err := time.Parse(time.RFC3339, d.NextBillingDate); err == nil {
			snapshot.NextBillingDate = &t
		}
	}
	for _, sub := range d.Subscriptions {
		snapshot.ActiveSubscriptions = append(snapshot.ActiveSubscriptions, entity.PlanSubscription{
			PlanKey:               sub.PlanKey,
			BillingPeriodType:     sub.BillingPeriodType,
			GatewaySubscriptionID: sub.GatewaySubscriptionID,
			Quantity:              sub.Quantity,
		})
	}
	return snapshot
}

type invoiceDTO struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	IssuedAt      time.Time `json:"issued_at"`
	PDFURL        string    `json:"pdf_url"`
}

func (d *invoiceDTO) toRecord() entity.InvoiceRecord {
	return entity.InvoiceRecord{
		ID:            d.ID,
		InvoiceNumber: d.InvoiceNumber,
		Amount:        entity.Money{Cents: d.AmountCents, Currency: d.Currency},
		Status:        entity.InvoiceStatus(d.Status),
		IssuedAt:      d.IssuedAt,
		PDFURL:        d.PDFURL,
	}
}
