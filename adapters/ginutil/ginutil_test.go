package ginutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDAssignsAndHonors(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get(RequestIDHeader); got == "" || got != w.Body.String() {
		t.Errorf("header = %q, body = %q", got, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("supplied id not honored: %q", got)
	}
}

type fixedLimiter struct {
	allow bool
	err   error
}

func (f fixedLimiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	return f.allow, f.err
}

func limitedRouter(l RateLimiter) *gin.Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := gin.New()
	r.GET("/", RateLimit(l, "session", logger), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimit(t *testing.T) {
	w := httptest.NewRecorder()
	limitedRouter(fixedLimiter{allow: true}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("allowed: code = %d", w.Code)
	}

	w = httptest.NewRecorder()
	limitedRouter(fixedLimiter{allow: false}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("denied: code = %d", w.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	w := httptest.NewRecorder()
	limitedRouter(fixedLimiter{err: context.DeadlineExceeded}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("limiter failure must fail open, code = %d", w.Code)
	}
}
