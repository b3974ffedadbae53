package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/adapters/ginutil"
	"github.com/imanagement/billingkit/stripe"
)

// HandleInvoicesGET lists a customer's invoices via the provider.
func HandleInvoicesGET(client *stripe.Client, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.Query("customer")
		if customerID == "" {
			ginutil.BadRequest(c, "missing_parameters")
			return
		}
		limit := 10
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 100 {
				ginutil.BadRequest(c, "invalid_limit")
				return
			}
			limit = n
		}

		body, err := client.ListInvoices(c.Request.Context(), customerID, limit)
		if err != nil {
			relayStripeError(c, logger, err, "list invoices failed")
			return
		}
		ginutil.RelayJSON(c, http.StatusOK, body)
	}
}
