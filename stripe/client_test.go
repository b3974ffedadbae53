package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(ClientConfig{SecretKey: "sk_test_123", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewClientRequiresSecret(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewClient(ClientConfig{SecretKey: "  "}); err == nil {
		t.Fatal("blank secret must be rejected")
	}
}

func TestCreateCheckoutSessionForm(t *testing.T) {
	var form url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("authorization = %q", got)
		}
		r.ParseForm()
		form = r.PostForm
		w.Write([]byte(`{"id":"cs_1","url":"https://checkout.stripe.com/c/cs_1"}`))
	})

	raw, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		PriceID:       "price_pro",
		SuccessURL:    "https://app.example.com/ok",
		CancelURL:     "https://app.example.com/cancel",
		TenantID:      "acme",
		CustomerEmail: "owner@acme.example",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Fatal("expected relayed response body")
	}

	want := map[string]string{
		"mode":                                  "subscription",
		"line_items[0][price]":                  "price_pro",
		"line_items[0][quantity]":               "1",
		"success_url":                           "https://app.example.com/ok",
		"cancel_url":                            "https://app.example.com/cancel",
		"client_reference_id":                   "acme",
		"metadata[tenantId]":                    "acme",
		"subscription_data[metadata][tenantId]": "acme",
		"customer_email":                        "owner@acme.example",
	}
	for k, v := range want {
		if got := form.Get(k); got != v {
			t.Errorf("form[%q] = %q, want %q", k, got, v)
		}
	}
}

func TestCreateCheckoutSessionValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid params must not reach the remote")
	})
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{PriceID: "price_pro"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateCheckoutSessionOmitsTenantWhenUnset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Has("client_reference_id") {
			t.Error("client_reference_id must be absent")
		}
		if r.PostForm.Has("metadata[tenantId]") {
			t.Error("tenant metadata must be absent")
		}
		w.Write([]byte(`{"id":"cs_2"}`))
	})
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		PriceID:    "price_pro",
		SuccessURL: "https://app.example.com/ok",
		CancelURL:  "https://app.example.com/cancel",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGetSubscriptionDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscriptions/sub_1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"metadata": {"tenantId": "acme"},
			"items": {"data": [{"price": {"id": "price_pro"}}]},
			"current_period_end": 1750000000
		}`))
	})

	sub, err := c.GetSubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Customer != "cus_1" || sub.Status != "active" {
		t.Errorf("sub = %+v", sub)
	}
	if sub.FirstPriceID() != "price_pro" {
		t.Errorf("price = %q", sub.FirstPriceID())
	}
	if sub.MetadataValue("tenantId") != "acme" {
		t.Errorf("metadata = %v", sub.Metadata)
	}
}

func TestAPIErrorSurface(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"No such subscription"}}`, http.StatusNotFound)
	})

	_, err := c.GetSubscription(context.Background(), "sub_missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Op != "GetSubscription" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestCreatePortalSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/billing_portal/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		r.ParseForm()
		if r.PostForm.Get("customer") != "cus_1" || r.PostForm.Get("return_url") != "https://app.example.com/billing" {
			t.Errorf("form = %v", r.PostForm)
		}
		w.Write([]byte(`{"id":"bps_1"}`))
	})

	if _, err := c.CreatePortalSession(context.Background(), "cus_1", "https://app.example.com/billing"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreatePortalSession(context.Background(), "", ""); err == nil {
		t.Error("missing params must be rejected")
	}
}

func TestListInvoicesDefaultsLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("customer"); got != "cus_1" {
			t.Errorf("customer = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q", got)
		}
		w.Write([]byte(`{"object":"list","data":[]}`))
	})

	if _, err := c.ListInvoices(context.Background(), "cus_1", 0); err != nil {
		t.Fatal(err)
	}
}
