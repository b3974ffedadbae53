package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/adapters/ginutil"
	"github.com/imanagement/billingkit/billing"
	"github.com/imanagement/billingkit/webhook"
)

// maxWebhookBody caps webhook payload reads. Stripe events are small.
const maxWebhookBody = 64 * 1024

// HandleStripeWebhookPOST verifies and processes Stripe webhook deliveries.
// The route is unauthenticated; authenticity comes from the signature over
// the raw body. A processing failure answers 500 so the provider retries,
// without leaking internal error text.
func HandleStripeWebhookPOST(verifier *webhook.Verifier, sync *billing.Synchronizer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			ginutil.BadRequest(c, "unreadable_body")
			return
		}

		if !verifier.Verify(payload, c.GetHeader("Stripe-Signature")) {
			logger.WithField("request_id", c.GetString("request_id")).Warn("invalid webhook signature")
			ginutil.BadRequest(c, "invalid_signature")
			return
		}

		ev, err := webhook.ParseEvent(payload)
		if err != nil {
			ginutil.BadRequest(c, "invalid_payload")
			return
		}

		if err := sync.HandleEvent(c.Request.Context(), ev); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"event": ev.ID,
				"type":  ev.Type,
			}).Error("webhook processing failed")
			ginutil.Internal(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
