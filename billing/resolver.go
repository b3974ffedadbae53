package billing

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/firestore"
	"github.com/imanagement/billingkit/plans"
	"github.com/imanagement/billingkit/webhook"
)

// DefaultTenantCollection is where tenant records live.
const DefaultTenantCollection = "tenants"

// DocumentStore is the slice of the document store the synchronizer needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string) (*firestore.Document, error)
	QueryByField(ctx context.Context, collection, fieldPath string, value any) (*firestore.Document, error)
	UpsertDocument(ctx context.Context, collection, id string, fields map[string]any) error
}

// Resolver determines which tenant a Stripe object belongs to and which
// configured plan a subscription maps to.
type Resolver struct {
	store      DocumentStore
	collection string
	catalog    *plans.Catalog
	logger     *logrus.Logger
}

// NewResolver creates a Resolver over the given tenant collection.
func NewResolver(store DocumentStore, collection string, catalog *plans.Catalog, logger *logrus.Logger) *Resolver {
	if collection == "" {
		collection = DefaultTenantCollection
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{store: store, collection: collection, catalog: catalog, logger: logger}
}

// ResolveTenantID resolves a tenant through the ordered fallback chain:
// the tenant ID carried in provider-side metadata, then a caller-supplied
// fallback, then a reverse lookup of the tenant whose stored
// stripeCustomerId equals the event's customer. All three missing yields "".
//
// The reverse lookup is best-effort: a store error is logged and folded
// into "unresolved". Callers have no further fallback, and provider events
// for untracked customers are legitimate, so an unresolved tenant is a
// benign no-op rather than a failure.
func (r *Resolver) ResolveTenantID(ctx context.Context, metadataTenantID, fallbackTenantID, customerID string) string {
	if metadataTenantID != "" {
		return metadataTenantID
	}
	if fallbackTenantID != "" {
		return fallbackTenantID
	}
	if customerID == "" {
		return ""
	}
	doc, err := r.store.QueryByField(ctx, r.collection, "stripeCustomerId", customerID)
	if err != nil {
		r.logger.WithError(err).WithField("customer", customerID).
			Warn("tenant reverse lookup failed; treating as unresolved")
		return ""
	}
	if doc == nil {
		return ""
	}
	return doc.ID()
}

// ResolvePlan maps a subscription to a configured plan. A metadata plan key
// naming a configured plan wins outright; otherwise the first line item's
// price, the caller's fallback price, or the legacy single-plan field is
// mapped through the catalog. No match means the caller must leave the
// tenant's plan fields untouched.
func (r *Resolver) ResolvePlan(sub *webhook.Subscription, fallbackPriceID string) (plans.Plan, bool) {
	if key := sub.MetadataValue(webhook.MetadataPlanKey); key != "" {
		if p, ok := r.catalog.Lookup(key); ok {
			return p, true
		}
	}

	priceID := sub.FirstPriceID()
	if priceID == "" {
		priceID = fallbackPriceID
	}
	if priceID == "" && sub.Plan != nil {
		priceID = sub.Plan.ID
	}
	if priceID == "" {
		return plans.Plan{}, false
	}
	return r.catalog.ByPrice(priceID)
}
