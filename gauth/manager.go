// Package gauth exchanges a self-signed service-account assertion for a
// short-lived Google OAuth access token and caches it until near expiry.
package gauth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTokenURL is Google's OAuth token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DefaultScope grants access to the Firestore/Datastore management API.
	DefaultScope = "https://www.googleapis.com/auth/datastore"

	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL       = time.Hour
	// renewalMargin renews the cached token this long before its stated
	// expiry, so a token is never handed out moments before going stale.
	renewalMargin = 60 * time.Second
)

// Token is an opaque bearer credential with its absolute expiry instant.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenCache holds the single process-wide credential. Implementations must
// be safe for concurrent use; redundant renewals under a read/renew race are
// acceptable, serving a stale token is not (the Manager enforces expiry).
type TokenCache interface {
	Get(ctx context.Context) (Token, bool, error)
	Put(ctx context.Context, tok Token) error
}

// ExchangeError is a non-success response from the token endpoint. It is
// retryable and carries the remote response text.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("gauth: token endpoint returned %d: %s", e.Status, e.Body)
}

// Config identifies the service account and the endpoint to exchange at.
type Config struct {
	ClientEmail   string
	PrivateKeyPEM string
	TokenURL      string // defaults to DefaultTokenURL
	Scope         string // defaults to DefaultScope
	Audience      string // defaults to TokenURL
}

// Manager builds signed assertions and serves cached access tokens.
type Manager struct {
	cfg        Config
	key        *rsa.PrivateKey
	cache      TokenCache
	httpClient *http.Client
	logger     *logrus.Logger
	now        func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for the token exchange.
func WithHTTPClient(c *http.Client) Option { return func(m *Manager) { m.httpClient = c } }

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option { return func(m *Manager) { m.logger = l } }

// New creates a Manager. Missing service-account email or key material is a
// configuration error, reported immediately rather than on first use.
func New(cfg Config, cache TokenCache, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(cfg.ClientEmail) == "" {
		return nil, errors.New("gauth: service account email is required")
	}
	if strings.TrimSpace(cfg.PrivateKeyPEM) == "" {
		return nil, errors.New("gauth: service account private key is required")
	}
	if cache == nil {
		return nil, errors.New("gauth: token cache is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("gauth: parse private key: %w", err)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.TokenURL
	}

	m := &Manager{
		cfg:        cfg,
		key:        key,
		cache:      cache,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logrus.StandardLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessToken returns a bearer token for the document store's management
// API, reusing the cached token while it is more than a minute from expiry.
// Concurrent callers may each trigger a renewal; every renewal produces a
// valid token, so the races are harmless.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	tok, ok, err := m.cache.Get(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("token cache read failed; renewing")
	} else if ok && m.now().Add(renewalMargin).Before(tok.ExpiresAt) {
		return tok.AccessToken, nil
	}

	tok, err = m.exchange(ctx)
	if err != nil {
		return "", err
	}
	if err := m.cache.Put(ctx, tok); err != nil {
		m.logger.WithError(err).Warn("token cache write failed")
	}
	return tok.AccessToken, nil
}

// signAssertion builds the RS256-signed JWT asserting the service account's
// identity: {iss, scope, aud, iat, exp = iat+1h}, base64url without padding.
func (m *Manager) signAssertion() (string, error) {
	now := m.now()
	claims := jwt.MapClaims{
		"iss":   m.cfg.ClientEmail,
		"scope": m.cfg.Scope,
		"aud":   m.cfg.Audience,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("gauth: sign assertion: %w", err)
	}
	return signed, nil
}

func (m *Manager) exchange(ctx context.Context) (Token, error) {
	assertion, err := m.signAssertion()
	if err != nil {
		return Token{}, err
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("gauth: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Token{}, &ExchangeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Token{}, fmt.Errorf("gauth: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return Token{}, errors.New("gauth: token response carries no access_token")
	}

	return Token{
		AccessToken: payload.AccessToken,
		ExpiresAt:   m.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}
