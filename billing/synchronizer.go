// Package billing reconciles Stripe subscription state into tenant records.
// Each webhook event drives an idempotent mutation of the tenant's billing
// fields: every field is written from absolute values in the source object,
// so replaying an event (or a semantically equivalent later one) converges
// to the same document.
package billing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/plans"
	"github.com/imanagement/billingkit/webhook"
)

// Tenant record field names.
const (
	FieldPlan             = "plan"
	FieldEntitlements     = "entitlements"
	FieldCustomerID       = "stripeCustomerId"
	FieldSubscriptionID   = "stripeSubscriptionId"
	FieldStatus           = "billingStatus"
	FieldPeriodEnd        = "billingCurrentPeriodEnd"
	FieldLastPaymentError = "billingLastPaymentError"
	FieldUpdatedAt        = "billingUpdatedAt"
)

// Billing statuses written to tenant records.
const (
	StatusActive        = "active"
	StatusIncomplete    = "incomplete"
	StatusPaymentFailed = "payment_failed"
	StatusCanceled      = "canceled"
)

const genericPaymentFailure = "Payment failed; please update your payment method."

// SubscriptionFetcher fetches the full subscription object from the
// payment provider.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*webhook.Subscription, error)
}

// Synchronizer dispatches webhook events to tenant document mutations.
type Synchronizer struct {
	store      DocumentStore
	provider   SubscriptionFetcher
	resolver   *Resolver
	catalog    *plans.Catalog
	collection string
	logger     *logrus.Logger
	now        func() time.Time
}

// SynchronizerOption customizes a Synchronizer.
type SynchronizerOption func(*Synchronizer)

// WithCollection overrides the tenant collection name.
func WithCollection(name string) SynchronizerOption {
	return func(s *Synchronizer) { s.collection = name }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) SynchronizerOption {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(store DocumentStore, provider SubscriptionFetcher, catalog *plans.Catalog, logger *logrus.Logger, opts ...SynchronizerOption) *Synchronizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Synchronizer{
		store:      store,
		provider:   provider,
		catalog:    catalog,
		collection: DefaultTenantCollection,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(store, s.collection, catalog, logger)
	return s
}

// HandleEvent applies one webhook event. Resolution misses are benign
// no-ops; remote failures from the provider or the document store propagate
// so the webhook endpoint can answer with a failure status and the provider
// redelivers.
func (s *Synchronizer) HandleEvent(ctx context.Context, ev *webhook.Event) error {
	log := s.logger.WithFields(logrus.Fields{"event": ev.ID, "type": ev.Type})

	switch ev.Type {
	case webhook.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	case webhook.EventSubscriptionCreated, webhook.EventSubscriptionUpdated:
		sub, err := ev.Subscription()
		if err != nil {
			return err
		}
		return s.synchronize(ctx, sub, sub.MetadataValue(webhook.MetadataTenantID), "")
	case webhook.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev)
	case webhook.EventInvoicePaid:
		return s.handleInvoicePaid(ctx, ev)
	case webhook.EventInvoicePaymentFailed:
		return s.handleInvoicePaymentFailed(ctx, ev)
	default:
		log.Info("ignoring unhandled event type")
		return nil
	}
}

// handleCheckoutCompleted runs the full synchronize routine on the session's
// subscription. A session without a subscription (payment still pending or
// one-off mode) only marks the tenant incomplete.
func (s *Synchronizer) handleCheckoutCompleted(ctx context.Context, ev *webhook.Event) error {
	sess, err := ev.CheckoutSession()
	if err != nil {
		return err
	}

	fallbackTenant := sess.ClientReferenceID
	if fallbackTenant == "" {
		fallbackTenant = sess.Metadata[webhook.MetadataTenantID]
	}

	if sess.Subscription == "" {
		tenantID := s.resolver.ResolveTenantID(ctx, sess.Metadata[webhook.MetadataTenantID], fallbackTenant, sess.Customer)
		if tenantID == "" {
			s.logger.WithField("event", ev.ID).Warn("checkout completed without subscription and no resolvable tenant")
			return nil
		}
		fields := map[string]any{
			FieldStatus:    StatusIncomplete,
			FieldUpdatedAt: s.now(),
		}
		if sess.Customer != "" {
			fields[FieldCustomerID] = sess.Customer
		}
		return s.store.UpsertDocument(ctx, s.collection, tenantID, fields)
	}

	sub, err := s.provider.GetSubscription(ctx, sess.Subscription)
	if err != nil {
		return err
	}
	if sub.MetadataValue(webhook.MetadataTenantID) == "" && fallbackTenant != "" {
		if sub.Metadata == nil {
			sub.Metadata = make(map[string]string, 1)
		}
		sub.Metadata[webhook.MetadataTenantID] = fallbackTenant
	}
	return s.synchronize(ctx, sub, fallbackTenant, "")
}

// handleSubscriptionDeleted force-downgrades the tenant to the free plan,
// clears the stored subscription ID and records the terminal status.
func (s *Synchronizer) handleSubscriptionDeleted(ctx context.Context, ev *webhook.Event) error {
	sub, err := ev.Subscription()
	if err != nil {
		return err
	}

	tenantID := s.resolver.ResolveTenantID(ctx, sub.MetadataValue(webhook.MetadataTenantID), "", sub.Customer)
	if tenantID == "" {
		s.logger.WithField("event", ev.ID).Warn("subscription deleted for unresolvable tenant")
		return nil
	}

	status := sub.Status
	if status == "" {
		status = StatusCanceled
	}
	free := s.catalog.Free()
	fields := map[string]any{
		FieldPlan:           free.Key,
		FieldEntitlements:   free.Entitlements.Fields(),
		FieldSubscriptionID: nil,
		FieldStatus:         status,
		FieldUpdatedAt:      s.now(),
	}
	periodEnd := sub.EndedAt
	if periodEnd == 0 {
		periodEnd = sub.CurrentPeriodEnd
	}
	if periodEnd > 0 {
		fields[FieldPeriodEnd] = time.Unix(periodEnd, 0).UTC()
	}
	return s.store.UpsertDocument(ctx, s.collection, tenantID, fields)
}

// handleInvoicePaid re-synchronizes from the subscription the invoice
// references. Invoices without a subscription are not tracked here.
func (s *Synchronizer) handleInvoicePaid(ctx context.Context, ev *webhook.Event) error {
	inv, err := ev.Invoice()
	if err != nil {
		return err
	}
	if inv.Subscription == "" {
		s.logger.WithField("event", ev.ID).Info("invoice paid without subscription reference")
		return nil
	}
	sub, err := s.provider.GetSubscription(ctx, inv.Subscription)
	if err != nil {
		return err
	}
	return s.synchronize(ctx, sub, sub.MetadataValue(webhook.MetadataTenantID), "")
}

// handleInvoicePaymentFailed resolves the tenant strictly through the
// customer reverse lookup (invoices carry no tenant metadata), records the
// failure, and best-effort refreshes the period end. The status update must
// land even when the subscription fetch fails.
func (s *Synchronizer) handleInvoicePaymentFailed(ctx context.Context, ev *webhook.Event) error {
	inv, err := ev.Invoice()
	if err != nil {
		return err
	}

	tenantID := s.resolver.ResolveTenantID(ctx, "", "", inv.Customer)
	if tenantID == "" {
		s.logger.WithFields(logrus.Fields{"event": ev.ID, "customer": inv.Customer}).
			Warn("payment failed for unresolvable tenant")
		return nil
	}

	message := genericPaymentFailure
	if inv.LastPaymentError != nil && inv.LastPaymentError.Message != "" {
		message = inv.LastPaymentError.Message
	}
	fields := map[string]any{
		FieldStatus:           StatusPaymentFailed,
		FieldLastPaymentError: message,
		FieldUpdatedAt:        s.now(),
	}

	if inv.Subscription != "" {
		sub, err := s.provider.GetSubscription(ctx, inv.Subscription)
		if err != nil {
			s.logger.WithError(err).WithField("subscription", inv.Subscription).
				Warn("period end refresh failed during payment failure handling")
		} else if sub.CurrentPeriodEnd > 0 {
			fields[FieldPeriodEnd] = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
	}
	return s.store.UpsertDocument(ctx, s.collection, tenantID, fields)
}

// synchronize is the shared reconciliation routine: resolve the tenant,
// resolve the plan, write the billing snapshot. Plan fields are written
// only when plan resolution succeeds, so an unrecognized price never
// up- or downgrades a tenant.
func (s *Synchronizer) synchronize(ctx context.Context, sub *webhook.Subscription, fallbackTenantID, fallbackPriceID string) error {
	tenantID := s.resolver.ResolveTenantID(ctx, sub.MetadataValue(webhook.MetadataTenantID), fallbackTenantID, sub.Customer)
	if tenantID == "" {
		s.logger.WithField("subscription", sub.ID).Warn("subscription for unresolvable tenant; skipping")
		return nil
	}

	status := sub.Status
	if status == "" {
		status = StatusActive
	}
	fields := map[string]any{
		FieldSubscriptionID: sub.ID,
		FieldStatus:         status,
		FieldUpdatedAt:      s.now(),
	}
	if sub.Customer != "" {
		fields[FieldCustomerID] = sub.Customer
	}
	if sub.CurrentPeriodEnd > 0 {
		fields[FieldPeriodEnd] = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if plan, ok := s.resolver.ResolvePlan(sub, fallbackPriceID); ok {
		fields[FieldPlan] = plan.Key
		fields[FieldEntitlements] = plan.Entitlements.Fields()
	} else {
		s.logger.WithField("subscription", sub.ID).Warn("no plan match; leaving plan fields untouched")
	}

	return s.store.UpsertDocument(ctx, s.collection, tenantID, fields)
}
