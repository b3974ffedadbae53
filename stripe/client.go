// Package stripe is a thin client for the payment provider's REST API:
// form-encoded requests under a bearer secret, JSON responses relayed
// verbatim to callers.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/webhook"
)

// DefaultBaseURL is the Stripe API base URL. Overridable for tests.
const DefaultBaseURL = "https://api.stripe.com"

// APIError is a non-success response from the provider, carrying the remote
// status and body for the caller's error surface.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %s: remote returned %d: %s", e.Op, e.Status, e.Body)
}

// ClientConfig configures a provider client.
type ClientConfig struct {
	SecretKey  string
	BaseURL    string // defaults to DefaultBaseURL
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client calls the provider's session-creation, subscription and invoice
// endpoints.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a Client. The API secret is required configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe: api secret key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// GetSubscription fetches the full subscription object.
func (c *Client) GetSubscription(ctx context.Context, id string) (*webhook.Subscription, error) {
	raw, err := c.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(id), nil, "GetSubscription")
	if err != nil {
		return nil, err
	}
	var sub webhook.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("stripe: GetSubscription: decode response: %w", err)
	}
	return &sub, nil
}

// CheckoutParams are the validated inputs for a checkout session.
type CheckoutParams struct {
	PriceID       string
	SuccessURL    string
	CancelURL     string
	TenantID      string
	CustomerEmail string
}

// CreateCheckoutSession creates a subscription-mode checkout session and
// relays the provider's JSON response. The tenant ID, when present, travels
// as both client_reference_id and session/subscription metadata so the
// webhook path can correlate the completed session back to a tenant.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (json.RawMessage, error) {
	if p.PriceID == "" || p.SuccessURL == "" || p.CancelURL == "" {
		return nil, errors.New("stripe: priceId, successUrl and cancelUrl are required")
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", p.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if p.TenantID != "" {
		form.Set("client_reference_id", p.TenantID)
		form.Set("metadata["+webhook.MetadataTenantID+"]", p.TenantID)
		form.Set("subscription_data[metadata]["+webhook.MetadataTenantID+"]", p.TenantID)
	}
	if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}

	return c.doPost(ctx, "/v1/checkout/sessions", form, "CreateCheckoutSession")
}

// CreatePortalSession creates a billing-portal session for a customer.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (json.RawMessage, error) {
	if customerID == "" || returnURL == "" {
		return nil, errors.New("stripe: customerId and returnUrl are required")
	}
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)
	return c.doPost(ctx, "/v1/billing_portal/sessions", form, "CreatePortalSession")
}

// ListInvoices lists a customer's invoices.
func (c *Client) ListInvoices(ctx context.Context, customerID string, limit int) (json.RawMessage, error) {
	if customerID == "" {
		return nil, errors.New("stripe: customerId is required")
	}
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", strconv.Itoa(limit))
	return c.doGet(ctx, "/v1/invoices", params, "ListInvoices")
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, op string) (json.RawMessage, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, op)
}

func (c *Client) doPost(ctx context.Context, path string, form url.Values, op string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req, op)
}

func (c *Client) send(req *http.Request, op string) (json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stripe: %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode}).Warn("stripe api error")
		return nil, &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.RawMessage(body), nil
}
