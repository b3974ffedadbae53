package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Verifier authenticates inbound Stripe webhook payloads using the
// endpoint's signing secret. Verification runs over the exact raw body
// bytes, before any JSON parsing, because re-serialization is not
// guaranteed to reproduce the original byte sequence.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given signing secret.
// An empty secret is a configuration error.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook: signing secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify reports whether the Stripe-Signature header authenticates the
// payload. The header has the form "t=<unix-seconds>,v1=<hex>[,v1=<hex>...]";
// the expected digest is HMAC-SHA256(secret, "<t>.<payload>") and any one of
// the v1 entries may match (Stripe sends several during secret rotation).
// Malformed input never panics or errors; it is simply not authentic.
func (v *Verifier) Verify(payload []byte, header string) bool {
	timestamp, digests := parseSignatureHeader(header)
	if timestamp == "" || len(digests) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, digest := range digests {
		sig, err := hex.DecodeString(strings.ToLower(digest))
		if err != nil {
			continue
		}
		if hmac.Equal(sig, expected) {
			return true
		}
	}
	return false
}

func parseSignatureHeader(header string) (timestamp string, digests []string) {
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = val
		case "v1":
			if val != "" {
				digests = append(digests, val)
			}
		}
	}
	return timestamp, digests
}
