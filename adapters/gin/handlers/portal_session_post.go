package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/adapters/ginutil"
	"github.com/imanagement/billingkit/stripe"
)

// HandlePortalSessionPOST creates a billing-portal session for a customer.
func HandlePortalSessionPOST(client *stripe.Client, logger *logrus.Logger) gin.HandlerFunc {
	type portalReq struct {
		CustomerID string `json:"customerId"`
		ReturnURL  string `json:"returnUrl"`
	}
	return func(c *gin.Context) {
		var req portalReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		if req.CustomerID == "" || req.ReturnURL == "" {
			ginutil.BadRequest(c, "missing_parameters")
			return
		}

		body, err := client.CreatePortalSession(c.Request.Context(), req.CustomerID, req.ReturnURL)
		if err != nil {
			relayStripeError(c, logger, err, "create portal session failed")
			return
		}
		ginutil.RelayJSON(c, http.StatusOK, body)
	}
}
