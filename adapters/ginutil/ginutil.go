// Package ginutil holds shared gin response helpers and middleware.
package ginutil

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-Id"

// BadRequest answers 400 with a machine-readable error code.
func BadRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": code})
}

// Internal answers 500 with a generic marker. Internal error text never
// reaches the response body.
func Internal(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal_error"})
}

// RelayJSON writes an upstream JSON body verbatim.
func RelayJSON(c *gin.Context, status int, body json.RawMessage) {
	c.Data(status, "application/json", body)
}

// RequestID assigns each request a correlation ID, honoring one supplied by
// the caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// RateLimiter is the slice of the rate limiter the middleware needs.
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// RateLimit rejects requests exceeding the bucket's limit with 429, keyed by
// client IP. A limiter failure fails open: throttling is protection, not a
// correctness guarantee.
func RateLimit(limiter RateLimiter, bucket string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := limiter.Allow(c.Request.Context(), bucket, c.ClientIP())
		if err != nil {
			logger.WithError(err).WithField("bucket", bucket).Warn("rate limiter unavailable; allowing request")
		} else if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "rate_limited"})
			return
		}
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString("request_id"),
		}).Info("request")
	}
}
