package webhook

import (
	"encoding/json"
	"fmt"
)

// Event types handled by the synchronizer. Anything else is ignored.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// MetadataTenantID is the metadata key carrying the tenant a Stripe object
// belongs to. It is injected into checkout sessions at creation time and
// copied onto subscriptions by the synchronizer.
const MetadataTenantID = "tenantId"

// MetadataPlanKey optionally pins a subscription to a configured plan,
// bypassing the price-to-plan mapping.
const MetadataPlanKey = "planKey"

// Event is a minimal representation of a Stripe webhook event. The data
// object is kept raw and decoded on demand by the typed accessors below, so
// unknown event types carry nothing beyond their type string.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData wraps the event's nested data object.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// ParseEvent decodes a raw webhook payload into an Event.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("webhook: invalid event payload: %w", err)
	}
	return &ev, nil
}

// CheckoutSession is the subset of a checkout.session object the
// synchronizer needs.
type CheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// Subscription is the subset of a subscription object the synchronizer
// needs. The same shape is returned by the provider's subscription-fetch
// endpoint. Plan is the legacy single-plan field kept for old API versions
// that predate items.
type Subscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
	Items             SubscriptionItems `json:"items"`
	Plan              *Price            `json:"plan"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	EndedAt           int64             `json:"ended_at"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
}

// SubscriptionItems wraps the line-item list.
type SubscriptionItems struct {
	Data []SubscriptionItem `json:"data"`
}

// SubscriptionItem is a single line item.
type SubscriptionItem struct {
	Price Price `json:"price"`
}

// Price identifies a Stripe price.
type Price struct {
	ID string `json:"id"`
}

// FirstPriceID returns the price of the first line item, or "".
func (s *Subscription) FirstPriceID() string {
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].Price.ID
	}
	return ""
}

// MetadataValue returns the named metadata entry, tolerating a nil map.
func (s *Subscription) MetadataValue(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}

// Invoice is the subset of an invoice object the synchronizer needs.
type Invoice struct {
	ID               string        `json:"id"`
	Customer         string        `json:"customer"`
	Subscription     string        `json:"subscription"`
	LastPaymentError *PaymentError `json:"last_payment_error"`
}

// PaymentError carries the provider's description of a failed payment.
type PaymentError struct {
	Message string `json:"message"`
}

// CheckoutSession decodes the event's data object as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("webhook: event %s: invalid checkout session object: %w", e.ID, err)
	}
	return &s, nil
}

// Subscription decodes the event's data object as a subscription.
func (e *Event) Subscription() (*Subscription, error) {
	var s Subscription
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("webhook: event %s: invalid subscription object: %w", e.ID, err)
	}
	return &s, nil
}

// Invoice decodes the event's data object as an invoice.
func (e *Event) Invoice() (*Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(e.Data.Object, &inv); err != nil {
		return nil, fmt.Errorf("webhook: event %s: invalid invoice object: %w", e.ID, err)
	}
	return &inv, nil
}
