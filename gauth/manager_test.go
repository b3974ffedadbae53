package gauth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/imanagement/billingkit/gauth"
	memorystore "github.com/imanagement/billingkit/storage/memory"
	billingtest "github.com/imanagement/billingkit/testing"
)

var (
	keyOnce sync.Once
	keyPEM  string
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatal(err)
		}
		keyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	return keyPEM
}

func TestNewValidatesConfig(t *testing.T) {
	pemKey := testKeyPEM(t)
	cache := memorystore.NewTokenCache()

	cases := []struct {
		name  string
		cfg   gauth.Config
		cache gauth.TokenCache
	}{
		{"missing email", gauth.Config{PrivateKeyPEM: pemKey}, cache},
		{"missing key", gauth.Config{ClientEmail: "sa@example.iam"}, cache},
		{"bad key material", gauth.Config{ClientEmail: "sa@example.iam", PrivateKeyPEM: "not pem"}, cache},
		{"nil cache", gauth.Config{ClientEmail: "sa@example.iam", PrivateKeyPEM: pemKey}, nil},
	}
	for _, tc := range cases {
		if _, err := gauth.New(tc.cfg, tc.cache); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestAccessTokenCachesUntilNearExpiry(t *testing.T) {
	ts := billingtest.NewTokenEndpoint()
	defer ts.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr, err := gauth.New(gauth.Config{
		ClientEmail:   "sa@example.iam",
		PrivateKeyPEM: testKeyPEM(t),
		TokenURL:      ts.URL(),
	}, memorystore.NewTokenCache(), gauth.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tok, err := mgr.AccessToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "token-1" {
		t.Fatalf("token = %q", tok)
	}

	// Still far from expiry: the cached token is served without a call.
	now = now.Add(30 * time.Minute)
	tok, err = mgr.AccessToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "token-1" || ts.Exchanges() != 1 {
		t.Fatalf("token = %q, exchanges = %d", tok, ts.Exchanges())
	}

	// Inside the renewal margin the token counts as expired.
	now = now.Add(30*time.Minute - 30*time.Second)
	tok, err = mgr.AccessToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "token-2" || ts.Exchanges() != 2 {
		t.Fatalf("token = %q, exchanges = %d", tok, ts.Exchanges())
	}
}

func TestAccessTokenShortLivedTokenAlwaysRenews(t *testing.T) {
	ts := billingtest.NewTokenEndpoint()
	defer ts.Close()
	ts.SetExpiresIn(45) // shorter than the renewal margin

	mgr, err := gauth.New(gauth.Config{
		ClientEmail:   "sa@example.iam",
		PrivateKeyPEM: testKeyPEM(t),
		TokenURL:      ts.URL(),
	}, memorystore.NewTokenCache())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := mgr.AccessToken(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if ts.Exchanges() != 3 {
		t.Errorf("exchanges = %d, want one per call", ts.Exchanges())
	}
}

func TestAccessTokenExchangeError(t *testing.T) {
	ts := billingtest.NewTokenEndpoint()
	defer ts.Close()
	ts.FailWith(http.StatusForbidden)

	mgr, err := gauth.New(gauth.Config{
		ClientEmail:   "sa@example.iam",
		PrivateKeyPEM: testKeyPEM(t),
		TokenURL:      ts.URL(),
	}, memorystore.NewTokenCache())
	if err != nil {
		t.Fatal(err)
	}

	_, err = mgr.AccessToken(context.Background())
	var exchange *gauth.ExchangeError
	if !errors.As(err, &exchange) {
		t.Fatalf("expected ExchangeError, got %v", err)
	}
	if exchange.Status != http.StatusForbidden {
		t.Errorf("status = %d", exchange.Status)
	}
	if !strings.Contains(exchange.Body, "invalid_grant") {
		t.Errorf("body = %q", exchange.Body)
	}
}

func TestAssertionClaims(t *testing.T) {
	var assertion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
			t.Errorf("grant_type = %q", got)
		}
		assertion = r.PostForm.Get("assertion")
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer server.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr, err := gauth.New(gauth.Config{
		ClientEmail:   "sa@example.iam",
		PrivateKeyPEM: testKeyPEM(t),
		TokenURL:      server.URL,
		Scope:         "https://www.googleapis.com/auth/datastore",
		Audience:      "https://oauth2.googleapis.com/token",
	}, memorystore.NewTokenCache(), gauth.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.AccessToken(context.Background()); err != nil {
		t.Fatal(err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
		t.Fatal(err)
	}
	if claims["iss"] != "sa@example.iam" {
		t.Errorf("iss = %v", claims["iss"])
	}
	if claims["scope"] != "https://www.googleapis.com/auth/datastore" {
		t.Errorf("scope = %v", claims["scope"])
	}
	if claims["aud"] != "https://oauth2.googleapis.com/token" {
		t.Errorf("aud = %v", claims["aud"])
	}
	if iat := int64(claims["iat"].(float64)); iat != now.Unix() {
		t.Errorf("iat = %d", iat)
	}
	if exp := int64(claims["exp"].(float64)); exp != now.Add(time.Hour).Unix() {
		t.Errorf("exp = %d", exp)
	}
}

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context) (gauth.Token, bool, error) {
	return gauth.Token{}, false, errors.New("cache down")
}
func (brokenCache) Put(ctx context.Context, tok gauth.Token) error {
	return errors.New("cache down")
}

func TestAccessTokenSurvivesCacheFailure(t *testing.T) {
	ts := billingtest.NewTokenEndpoint()
	defer ts.Close()

	mgr, err := gauth.New(gauth.Config{
		ClientEmail:   "sa@example.iam",
		PrivateKeyPEM: testKeyPEM(t),
		TokenURL:      ts.URL(),
	}, brokenCache{})
	if err != nil {
		t.Fatal(err)
	}

	tok, err := mgr.AccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "token-1" {
		t.Errorf("token = %q", tok)
	}
}
