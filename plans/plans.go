// Package plans holds the static plan catalog: each tier's Stripe prices
// and the entitlements it grants. The catalog is built once at startup and
// immutable for the process lifetime.
package plans

import (
	"fmt"
)

// Well-known plan keys.
const (
	FreeKey = "free"
	ProKey  = "pro"
)

// Entitlements are the limits and feature flags a plan grants. A fixed
// record rather than an open map, so every entitlement field is covered at
// compile time.
type Entitlements struct {
	MaxUsers              int  `json:"maxUsers"`
	MaxProducts           int  `json:"maxProducts"`
	MaxOperationsPerMonth int  `json:"maxOperationsPerMonth"`
	AdvancedReports       bool `json:"advancedReports"`
	PrioritySupport       bool `json:"prioritySupport"`
}

// Fields returns the entitlements as a native record for document writes.
func (e Entitlements) Fields() map[string]any {
	return map[string]any{
		"maxUsers":              e.MaxUsers,
		"maxProducts":           e.MaxProducts,
		"maxOperationsPerMonth": e.MaxOperationsPerMonth,
		"advancedReports":       e.AdvancedReports,
		"prioritySupport":       e.PrioritySupport,
	}
}

// Plan is a named tier with its associated Stripe price IDs.
type Plan struct {
	Key          string
	PriceIDs     []string
	Entitlements Entitlements
}

// Catalog maps plan keys and price IDs to plans.
type Catalog struct {
	plans   map[string]Plan
	byPrice map[string]string
}

// NewCatalog builds a catalog. A free plan is required (it is the downgrade
// target on subscription deletion); duplicate plan keys or price IDs are
// configuration errors.
func NewCatalog(ps ...Plan) (*Catalog, error) {
	c := &Catalog{
		plans:   make(map[string]Plan, len(ps)),
		byPrice: make(map[string]string),
	}
	for _, p := range ps {
		if p.Key == "" {
			return nil, fmt.Errorf("plans: plan with empty key")
		}
		if _, dup := c.plans[p.Key]; dup {
			return nil, fmt.Errorf("plans: duplicate plan key %q", p.Key)
		}
		c.plans[p.Key] = p
		for _, priceID := range p.PriceIDs {
			if owner, dup := c.byPrice[priceID]; dup {
				return nil, fmt.Errorf("plans: price %q mapped to both %q and %q", priceID, owner, p.Key)
			}
			c.byPrice[priceID] = p.Key
		}
	}
	if _, ok := c.plans[FreeKey]; !ok {
		return nil, fmt.Errorf("plans: catalog must define a %q plan", FreeKey)
	}
	return c, nil
}

// DefaultCatalog builds the standard free/pro catalog, attaching the given
// Stripe price IDs to the pro tier.
func DefaultCatalog(proPriceIDs []string) (*Catalog, error) {
	return NewCatalog(
		Plan{
			Key: FreeKey,
			Entitlements: Entitlements{
				MaxUsers:              3,
				MaxProducts:           100,
				MaxOperationsPerMonth: 500,
			},
		},
		Plan{
			Key:      ProKey,
			PriceIDs: proPriceIDs,
			Entitlements: Entitlements{
				MaxUsers:              25,
				MaxProducts:           10000,
				MaxOperationsPerMonth: 50000,
				AdvancedReports:       true,
				PrioritySupport:       true,
			},
		},
	)
}

// Lookup returns the plan for a key.
func (c *Catalog) Lookup(key string) (Plan, bool) {
	p, ok := c.plans[key]
	return p, ok
}

// ByPrice returns the plan owning a Stripe price ID.
func (c *Catalog) ByPrice(priceID string) (Plan, bool) {
	key, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, false
	}
	return c.plans[key], true
}

// Free returns the free tier.
func (c *Catalog) Free() Plan {
	return c.plans[FreeKey]
}
