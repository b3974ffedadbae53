// Command billingd synchronizes Stripe billing state into Firestore tenant
// records and serves the checkout/portal/invoice endpoints.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/adapters/gin/handlers"
	"github.com/imanagement/billingkit/adapters/ginutil"
	"github.com/imanagement/billingkit/billing"
	"github.com/imanagement/billingkit/config"
	"github.com/imanagement/billingkit/firestore"
	"github.com/imanagement/billingkit/gauth"
	"github.com/imanagement/billingkit/plans"
	memorylimiter "github.com/imanagement/billingkit/ratelimit/memory"
	redislimiter "github.com/imanagement/billingkit/ratelimit/redis"
	memorystore "github.com/imanagement/billingkit/storage/memory"
	redisstore "github.com/imanagement/billingkit/storage/redis"
	"github.com/imanagement/billingkit/stripe"
	"github.com/imanagement/billingkit/webhook"
)

func main() {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("configuration error")
	}

	verifier, err := webhook.NewVerifier(cfg.StripeWebhookSecret)
	if err != nil {
		logger.WithError(err).Fatal("webhook verifier")
	}

	// Sessions are created by anonymous browsers, so the session routes get
	// a per-IP limiter; the webhook route is protected by its signature.
	sessionLimits := map[string]memorylimiter.Limit{
		"session":  {Limit: 30, Window: time.Minute},
		"invoices": {Limit: 60, Window: time.Minute},
	}
	var tokenCache gauth.TokenCache = memorystore.NewTokenCache()
	var limiter ginutil.RateLimiter = memorylimiter.New(sessionLimits)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		tokenCache = redisstore.NewTokenCache(rdb, "")
		redisLimits := make(map[string]redislimiter.Limit, len(sessionLimits))
		for k, v := range sessionLimits {
			redisLimits[k] = redislimiter.Limit(v)
		}
		limiter = redislimiter.New(rdb, redisLimits)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis token cache and rate limiter")
	}

	tokens, err := gauth.New(gauth.Config{
		ClientEmail:   cfg.ServiceAccountEmail,
		PrivateKeyPEM: cfg.ServiceAccountPrivateKey,
	}, tokenCache, gauth.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("credential manager")
	}

	store, err := firestore.NewClient(firestore.ClientConfig{
		ProjectID: cfg.FirebaseProjectID,
		Logger:    logger,
	}, tokens)
	if err != nil {
		logger.WithError(err).Fatal("firestore client")
	}

	provider, err := stripe.NewClient(stripe.ClientConfig{
		SecretKey: cfg.StripeSecretKey,
		BaseURL:   cfg.StripeBaseURL,
		Logger:    logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("stripe client")
	}

	catalog, err := plans.DefaultCatalog(cfg.ProPriceIDs)
	if err != nil {
		logger.WithError(err).Fatal("plan catalog")
	}

	sync := billing.NewSynchronizer(store, provider, catalog, logger,
		billing.WithCollection(cfg.TenantCollection))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), ginutil.RequestID(), ginutil.AccessLog(logger))

	router.POST("/stripe/webhook", handlers.HandleStripeWebhookPOST(verifier, sync, logger))

	sessionLimit := ginutil.RateLimit(limiter, "session", logger)
	router.POST("/checkout/session", sessionLimit, handlers.HandleCheckoutSessionPOST(provider, logger))
	router.POST("/portal/session", sessionLimit, handlers.HandlePortalSessionPOST(provider, logger))
	router.GET("/invoices", ginutil.RateLimit(limiter, "invoices", logger), handlers.HandleInvoicesGET(provider, logger))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("billingd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server")
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
