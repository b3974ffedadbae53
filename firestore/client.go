package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the Firestore REST endpoint. Overridable for tests.
const DefaultBaseURL = "https://firestore.googleapis.com/v1"

// TokenSource supplies bearer credentials for the management API.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RemoteError is a non-success response from the document store, carrying
// the remote status and body for the caller's error surface.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("firestore: %s: remote returned %d: %s", e.Op, e.Status, e.Body)
}

// Document is a Firestore document: its full resource name plus typed fields.
type Document struct {
	Name       string           `json:"name"`
	Fields     map[string]Value `json:"fields"`
	CreateTime string           `json:"createTime,omitempty"`
	UpdateTime string           `json:"updateTime,omitempty"`
}

// ID returns the last path segment of the document's resource name.
func (d *Document) ID() string {
	if i := strings.LastIndexByte(d.Name, '/'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// StringField extracts a top-level string field, absent on missing field or
// tag mismatch.
func (d *Document) StringField(name string) (string, bool) {
	v, ok := d.Fields[name]
	if !ok {
		return "", false
	}
	return v.StringVal()
}

// BoolField extracts a top-level boolean field, absent on missing field or
// tag mismatch.
func (d *Document) BoolField(name string) (bool, bool) {
	v, ok := d.Fields[name]
	if !ok {
		return false, false
	}
	return v.BoolVal()
}

// ClientConfig configures a document store client.
type ClientConfig struct {
	ProjectID  string
	BaseURL    string // defaults to DefaultBaseURL
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client performs point lookups, single-field equality queries and
// upsert-or-create writes against the Firestore REST surface. All requests
// carry a bearer token from the TokenSource and all field payloads go
// through the typed value codec.
type Client struct {
	projectID  string
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *logrus.Logger
}

// NewClient creates a Client. The project ID is required configuration.
func NewClient(cfg ClientConfig, tokens TokenSource) (*Client, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("firestore: project id is required")
	}
	if tokens == nil {
		return nil, errors.New("firestore: token source is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		projectID:  cfg.ProjectID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}, nil
}

// parent returns the resource path all document URLs hang off.
func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/databases/(default)/documents", c.projectID)
}

func (c *Client) docURL(collection, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.baseURL, c.parent(), url.PathEscape(collection), url.PathEscape(id))
}

// GetDocument performs a point lookup. A remote 404 is absence, not an error.
func (c *Client) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	resp, err := c.do(ctx, http.MethodGet, c.docURL(collection, id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remoteError("GetDocument", resp)
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("firestore: GetDocument: decode response: %w", err)
	}
	return &doc, nil
}

// QueryByField runs a structured equality query limited to one result and
// returns the first match, or absent when nothing matches. Transport and
// remote failures are returned as errors; the caller decides whether a
// failed lookup may be folded into absence.
func (c *Client) QueryByField(ctx context.Context, collection, fieldPath string, value any) (*Document, error) {
	encoded, err := Encode(value)
	if err != nil {
		return nil, fmt.Errorf("firestore: QueryByField: %w", err)
	}

	query := map[string]any{
		"structuredQuery": map[string]any{
			"from": []map[string]any{{"collectionId": collection}},
			"where": map[string]any{
				"fieldFilter": map[string]any{
					"field": map[string]any{"fieldPath": fieldPath},
					"op":    "EQUAL",
					"value": encoded,
				},
			},
			"limit": 1,
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("firestore: QueryByField: marshal query: %w", err)
	}

	queryURL := fmt.Sprintf("%s/%s:runQuery", c.baseURL, c.parent())
	resp, err := c.do(ctx, http.MethodPost, queryURL, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remoteError("QueryByField", resp)
	}

	// runQuery streams an array of result wrappers; entries without a
	// document are read-time markers.
	var results []struct {
		Document *Document `json:"document"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("firestore: QueryByField: decode response: %w", err)
	}
	for _, r := range results {
		if r.Document != nil {
			return r.Document, nil
		}
	}
	return nil, nil
}

// UpsertDocument writes the given fields to a document, creating it when it
// does not exist. Firestore's REST surface has no native upsert, so this is
// a field-masked PATCH with a create-with-id fallback on 404. The update
// mask lists exactly the top-level keys being written, so untouched fields
// survive. An empty effective field set never calls the remote.
func (c *Client) UpsertDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	encoded, err := EncodeFields(fields)
	if err != nil {
		return fmt.Errorf("firestore: UpsertDocument: %w", err)
	}
	body, err := json.Marshal(map[string]any{"fields": encoded})
	if err != nil {
		return fmt.Errorf("firestore: UpsertDocument: marshal fields: %w", err)
	}

	mask := url.Values{}
	for k := range fields {
		mask.Add("updateMask.fieldPaths", k)
	}

	patchURL := c.docURL(collection, id) + "?" + mask.Encode()
	resp, err := c.do(ctx, http.MethodPatch, patchURL, body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		resp.Body.Close()
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		defer resp.Body.Close()
		return remoteError("UpsertDocument", resp)
	}
	resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"collection": collection,
		"document":   id,
	}).Debug("patch target missing; creating document")

	createURL := fmt.Sprintf("%s/%s/%s?documentId=%s", c.baseURL, c.parent(), url.PathEscape(collection), url.QueryEscape(id))
	resp, err = c.do(ctx, http.MethodPost, createURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError("UpsertDocument", resp)
	}
	return nil
}

// DocumentPage is one page of a collection listing.
type DocumentPage struct {
	Documents     []Document `json:"documents"`
	NextPageToken string     `json:"nextPageToken"`
}

// ListDocuments returns a page of documents from a collection.
func (c *Client) ListDocuments(ctx context.Context, collection string, pageSize int, pageToken string) (*DocumentPage, error) {
	params := url.Values{}
	if pageSize > 0 {
		params.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	listURL := fmt.Sprintf("%s/%s/%s", c.baseURL, c.parent(), url.PathEscape(collection))
	if len(params) > 0 {
		listURL += "?" + params.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remoteError("ListDocuments", resp)
	}
	var page DocumentPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("firestore: ListDocuments: decode response: %w", err)
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: acquire access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firestore: %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

func remoteError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RemoteError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
