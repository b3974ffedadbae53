// Package config loads the service configuration from the environment.
// Missing required material is a startup error, never a per-request one.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config is the full configuration surface.
type Config struct {
	ListenAddr string

	// Payment provider.
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string

	// Document store.
	FirebaseProjectID string
	TenantCollection  string

	// Service account for the store's management API.
	ServiceAccountEmail      string
	ServiceAccountPrivateKey string

	// Plan catalog.
	ProPriceIDs []string

	// Optional shared token cache.
	RedisAddr string
}

// Load reads configuration from the environment, collecting every missing
// required variable into a single error.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               envOr("LISTEN_ADDR", ":8080"),
		StripeSecretKey:          os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:            os.Getenv("STRIPE_BASE_URL"),
		FirebaseProjectID:        os.Getenv("FIREBASE_PROJECT_ID"),
		TenantCollection:         envOr("TENANT_COLLECTION", "tenants"),
		ServiceAccountEmail:      os.Getenv("SERVICE_ACCOUNT_EMAIL"),
		ServiceAccountPrivateKey: os.Getenv("SERVICE_ACCOUNT_PRIVATE_KEY"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
	}
	if v := strings.TrimSpace(os.Getenv("PLAN_PRO_PRICE_IDS")); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.ProPriceIDs = append(cfg.ProPriceIDs, id)
			}
		}
	}

	var missing []string
	for _, req := range []struct{ name, val string }{
		{"STRIPE_SECRET_KEY", cfg.StripeSecretKey},
		{"STRIPE_WEBHOOK_SECRET", cfg.StripeWebhookSecret},
		{"FIREBASE_PROJECT_ID", cfg.FirebaseProjectID},
		{"SERVICE_ACCOUNT_EMAIL", cfg.ServiceAccountEmail},
		{"SERVICE_ACCOUNT_PRIVATE_KEY", cfg.ServiceAccountPrivateKey},
	} {
		if strings.TrimSpace(req.val) == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
