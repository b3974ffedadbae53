package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticTokens string

func (s staticTokens) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(ClientConfig{ProjectID: "test-proj", BaseURL: server.URL}, staticTokens("tok"))
	if err != nil {
		t.Fatal(err)
	}
	return c, server
}

func TestGetDocumentFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(Document{
			Name:   "projects/test-proj/databases/(default)/documents/tenants/acme",
			Fields: map[string]Value{"plan": String("pro")},
		})
	})

	doc, err := c.GetDocument(context.Background(), "tenants", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil {
		t.Fatal("expected document")
	}
	if doc.ID() != "acme" {
		t.Errorf("id = %q", doc.ID())
	}
	if got, _ := doc.StringField("plan"); got != "pro" {
		t.Errorf("plan = %q", got)
	}
}

func TestGetDocumentNotFoundIsAbsent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404}}`, http.StatusNotFound)
	})

	doc, err := c.GetDocument(context.Background(), "tenants", "ghost")
	if err != nil {
		t.Fatalf("404 must be absence, got error %v", err)
	}
	if doc != nil {
		t.Fatal("expected nil document")
	}
}

func TestGetDocumentRemoteError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.GetDocument(context.Background(), "tenants", "acme")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Status != http.StatusInternalServerError || remote.Body != "boom" {
		t.Errorf("remote error = %+v", remote)
	}
}

func TestQueryByFieldMatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var q map[string]any
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Fatal(err)
		}
		sq := q["structuredQuery"].(map[string]any)
		if sq["limit"].(float64) != 1 {
			t.Errorf("limit = %v", sq["limit"])
		}
		w.Write([]byte(`[
			{"readTime": "2025-06-01T00:00:00Z"},
			{"document": {"name": "projects/p/databases/(default)/documents/tenants/beta", "fields": {}}}
		]`))
	})

	doc, err := c.QueryByField(context.Background(), "tenants", "stripeCustomerId", "cus_9")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc.ID() != "beta" {
		t.Fatalf("doc = %v", doc)
	}
}

func TestQueryByFieldNoMatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"readTime": "2025-06-01T00:00:00Z"}]`))
	})

	doc, err := c.QueryByField(context.Background(), "tenants", "stripeCustomerId", "cus_9")
	if err != nil {
		t.Fatal(err)
	}
	if doc != nil {
		t.Fatal("expected absence")
	}
}

func TestQueryByFieldRemoteErrorSurfaces(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := c.QueryByField(context.Background(), "tenants", "stripeCustomerId", "cus_9")
	if err == nil {
		t.Fatal("remote failure must surface as an error, not absence")
	}
}

func TestUpsertPatchesExisting(t *testing.T) {
	var patches int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		patches++
		mask := r.URL.Query()["updateMask.fieldPaths"]
		if len(mask) != 2 {
			t.Errorf("mask = %v", mask)
		}
		w.Write([]byte(`{}`))
	})

	err := c.UpsertDocument(context.Background(), "tenants", "acme", map[string]any{
		"plan":          "pro",
		"billingStatus": "active",
	})
	if err != nil {
		t.Fatal(err)
	}
	if patches != 1 {
		t.Errorf("patches = %d", patches)
	}
}

func TestUpsertFallsBackToCreate(t *testing.T) {
	var sawCreate bool
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			http.Error(w, "missing", http.StatusNotFound)
		case http.MethodPost:
			sawCreate = true
			if got := r.URL.Query().Get("documentId"); got != "acme" {
				t.Errorf("documentId = %q", got)
			}
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	err := c.UpsertDocument(context.Background(), "tenants", "acme", map[string]any{"plan": "pro"})
	if err != nil {
		t.Fatal(err)
	}
	if !sawCreate {
		t.Error("expected create-with-id fallback")
	}
}

func TestUpsertBothAttemptsFailing(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			http.Error(w, "missing", http.StatusNotFound)
			return
		}
		http.Error(w, "denied", http.StatusForbidden)
	})

	err := c.UpsertDocument(context.Background(), "tenants", "acme", map[string]any{"plan": "pro"})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Status != http.StatusForbidden {
		t.Errorf("status = %d", remote.Status)
	}
}

func TestUpsertEmptyFieldsSkipsRemote(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	if err := c.UpsertDocument(context.Background(), "tenants", "acme", nil); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("empty write must not call the remote; calls = %d", calls)
	}
}

func TestListDocumentsPaginates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if tok := r.URL.Query().Get("pageToken"); tok == "" {
			w.Write([]byte(`{"documents":[{"name":"a/b/c/d/tenants/one","fields":{}}],"nextPageToken":"next"}`))
			return
		}
		w.Write([]byte(`{"documents":[{"name":"a/b/c/d/tenants/two","fields":{}}]}`))
	})

	page, err := c.ListDocuments(context.Background(), "tenants", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Documents) != 1 || page.NextPageToken != "next" {
		t.Fatalf("page = %+v", page)
	}
	page, err = c.ListDocuments(context.Background(), "tenants", 1, page.NextPageToken)
	if err != nil {
		t.Fatal(err)
	}
	if page.NextPageToken != "" || page.Documents[0].ID() != "two" {
		t.Fatalf("page = %+v", page)
	}
}
