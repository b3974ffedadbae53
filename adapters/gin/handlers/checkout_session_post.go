package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/adapters/ginutil"
	"github.com/imanagement/billingkit/stripe"
)

// HandleCheckoutSessionPOST creates a subscription checkout session and
// relays the provider's response. Provider error text is relayed for
// debuggability, unlike the webhook route.
func HandleCheckoutSessionPOST(client *stripe.Client, logger *logrus.Logger) gin.HandlerFunc {
	type checkoutReq struct {
		PriceID       string `json:"priceId"`
		SuccessURL    string `json:"successUrl"`
		CancelURL     string `json:"cancelUrl"`
		TenantID      string `json:"tenantId"`
		CustomerEmail string `json:"customerEmail"`
	}
	return func(c *gin.Context) {
		var req checkoutReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		if req.PriceID == "" || req.SuccessURL == "" || req.CancelURL == "" {
			ginutil.BadRequest(c, "missing_parameters")
			return
		}

		body, err := client.CreateCheckoutSession(c.Request.Context(), stripe.CheckoutParams{
			PriceID:       req.PriceID,
			SuccessURL:    req.SuccessURL,
			CancelURL:     req.CancelURL,
			TenantID:      req.TenantID,
			CustomerEmail: req.CustomerEmail,
		})
		if err != nil {
			relayStripeError(c, logger, err, "create checkout session failed")
			return
		}
		ginutil.RelayJSON(c, http.StatusOK, body)
	}
}

// relayStripeError maps a provider error onto the response: remote API
// errors surface their upstream text, anything else stays generic.
func relayStripeError(c *gin.Context, logger *logrus.Logger, err error, msg string) {
	logger.WithError(err).Error(msg)
	var apiErr *stripe.APIError
	if errors.As(err, &apiErr) {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "stripe_api_error", "detail": apiErr.Body})
		return
	}
	ginutil.Internal(c)
}
