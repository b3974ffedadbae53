// Package billingtest provides fakes for testing code that depends on the
// token endpoint or the document store, without real network peers.
//
// Example:
//
//	ts := billingtest.NewTokenEndpoint()
//	defer ts.Close()
//	mgr, _ := gauth.New(gauth.Config{..., TokenURL: ts.URL()}, cache)
package billingtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/imanagement/billingkit/firestore"
)

// TokenEndpoint is a fake OAuth token endpoint. It records every exchange
// so tests can assert on cache behavior.
type TokenEndpoint struct {
	server *httptest.Server

	mu        sync.Mutex
	exchanges int
	token     string
	expiresIn int64
	failWith  int
}

// NewTokenEndpoint starts a fake endpoint issuing "token-1", "token-2", ...
// with a one hour expiry.
func NewTokenEndpoint() *TokenEndpoint {
	te := &TokenEndpoint{expiresIn: 3600}
	te.server = httptest.NewServer(http.HandlerFunc(te.handle))
	return te
}

// URL returns the endpoint URL.
func (te *TokenEndpoint) URL() string { return te.server.URL }

// Close shuts the endpoint down.
func (te *TokenEndpoint) Close() { te.server.Close() }

// Exchanges returns how many token exchanges have been performed.
func (te *TokenEndpoint) Exchanges() int {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.exchanges
}

// SetExpiresIn overrides the expiry returned on subsequent exchanges.
func (te *TokenEndpoint) SetExpiresIn(seconds int64) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.expiresIn = seconds
}

// FailWith makes subsequent exchanges answer the given status; 0 restores
// normal behavior.
func (te *TokenEndpoint) FailWith(status int) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.failWith = status
}

func (te *TokenEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("assertion") == "" {
		http.Error(w, "missing assertion", http.StatusBadRequest)
		return
	}

	te.mu.Lock()
	defer te.mu.Unlock()
	if te.failWith != 0 {
		http.Error(w, `{"error":"invalid_grant"}`, te.failWith)
		return
	}
	te.exchanges++
	te.token = fmt.Sprintf("token-%d", te.exchanges)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": te.token,
		"expires_in":   te.expiresIn,
	})
}

// MemoryStore is an in-memory billing.DocumentStore with upsert-merge
// semantics, for synchronizer tests.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]map[string]firestore.Value // collection/id -> fields
	Upserts int

	// QueryErr, when set, is returned from QueryByField to simulate a
	// transient store failure.
	QueryErr error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]firestore.Value)}
}

func key(collection, id string) string { return collection + "/" + id }

func (s *MemoryStore) GetDocument(ctx context.Context, collection, id string) (*firestore.Document, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.docs[key(collection, id)]
	if !ok {
		return nil, nil
	}
	return s.document(collection, id, fields), nil
}

func (s *MemoryStore) QueryByField(ctx context.Context, collection, fieldPath string, value any) (*firestore.Document, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	want, err := firestore.Encode(value)
	if err != nil {
		return nil, err
	}
	wantStr, _ := want.StringVal()
	for k, fields := range s.docs {
		collPart, id, ok := splitKey(k)
		if !ok || collPart != collection {
			continue
		}
		if got, ok := fields[fieldPath]; ok {
			if gotStr, ok := got.StringVal(); ok && gotStr == wantStr {
				return s.document(collection, id, fields), nil
			}
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpsertDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	_ = ctx
	if len(fields) == 0 {
		return nil
	}
	encoded, err := firestore.EncodeFields(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	k := key(collection, id)
	existing, ok := s.docs[k]
	if !ok {
		existing = make(map[string]firestore.Value)
		s.docs[k] = existing
	}
	for name, v := range encoded {
		existing[name] = v
	}
	return nil
}

// Fields returns a copy of a document's fields, nil when absent.
func (s *MemoryStore) Fields(collection, id string) map[string]firestore.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.docs[key(collection, id)]
	if !ok {
		return nil
	}
	out := make(map[string]firestore.Value, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Seed installs a document directly.
func (s *MemoryStore) Seed(collection, id string, fields map[string]any) error {
	return s.UpsertDocument(context.Background(), collection, id, fields)
}

func (s *MemoryStore) document(collection, id string, fields map[string]firestore.Value) *firestore.Document {
	out := make(map[string]firestore.Value, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return &firestore.Document{
		Name:   fmt.Sprintf("projects/test/databases/(default)/documents/%s/%s", collection, id),
		Fields: out,
	}
}

func splitKey(k string) (collection, id string, ok bool) {
	for i := 0; i < len(k); i++ {
		if k[i] == '/' {
			return k[:i], k[i+1:], true
		}
	}
	return "", "", false
}
