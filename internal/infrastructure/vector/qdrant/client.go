package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

// indexedFields get payload indexes so exact-match filters stay fast as the
// collection grows.
var indexedFields = []string{"doc_type", "file_hash", "employee_name", "status", "currency"}

// Client is a ContentStore backed by a single Qdrant collection over its
// HTTP API. Dedup lookups use scroll with exact-match filters; search uses
// cosine similarity with a score threshold.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) FindByHash(ctx context.Context, contentHash, docType string) (*domain.StoredDocument, error) {
	return c.scrollOne(ctx, map[string]string{
		"file_hash": contentHash,
		"doc_type":  docType,
	})
}

func (c *Client) FindInvoice(ctx context.Context, contentHash, employeeName string) (*domain.StoredDocument, error) {
	return c.scrollOne(ctx, map[string]string{
		"file_hash":     contentHash,
		"doc_type":      domain.DocTypeInvoice,
		"employee_name": employeeName,
	})
}

func (c *Client) Put(ctx context.Context, doc domain.StoredDocument, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for document %s", doc.ID)
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	payload := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	payload["content"] = doc.Content

	reqBody := map[string]any{
		"points": []map[string]any{{
			"id":      doc.ID,
			"vector":  vector,
			"payload": payload,
		}},
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	var resp struct{}
	if err := c.do(ctx, http.MethodPut, url, reqBody, &resp); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (c *Client) Search(
	ctx context.Context,
	vector []float32,
	filters map[string]string,
	limit int,
	scoreThreshold float64,
) ([]domain.RetrievedContext, error) {
	reqBody := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": scoreThreshold,
	}
	if must := mustConditions(filters); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &searchResp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]domain.RetrievedContext, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		doc := documentFromPayload(fmt.Sprintf("%v", r.ID), r.Payload)
		out = append(out, domain.RetrievedContext{
			Document: doc,
			Score:    r.Score,
			Excerpt:  firstChars(doc.Content, 200),
		})
	}
	return out, nil
}

// scrollOne retrieves at most one point matching the exact-match conditions.
func (c *Client) scrollOne(ctx context.Context, filters map[string]string) (*domain.StoredDocument, error) {
	reqBody := map[string]any{
		"limit":        1,
		"with_payload": true,
		"filter":       map[string]any{"must": mustConditions(filters)},
	}

	var scrollResp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPost, url, reqBody, &scrollResp)
	if err != nil {
		// A missing collection just means nothing is stored yet.
		if strings.Contains(err.Error(), "404") {
			return nil, nil
		}
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}

	if len(scrollResp.Result.Points) == 0 {
		return nil, nil
	}
	p := scrollResp.Result.Points[0]
	doc := documentFromPayload(fmt.Sprintf("%v", p.ID), p.Payload)
	return &doc, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}

	if err := c.ensureIndexes(ctx); err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	for _, field := range indexedFields {
		reqBody := map[string]any{
			"field_name":   field,
			"field_schema": "keyword",
		}
		url := fmt.Sprintf("%s/collections/%s/index?wait=true", c.baseURL, c.collection)
		var resp struct{}
		if err := c.do(ctx, http.MethodPut, url, reqBody, &resp); err != nil {
			// Index creation is idempotent in spirit; an existing index
			// reports a conflict we can ignore.
			if strings.Contains(err.Error(), "409") {
				continue
			}
			return fmt.Errorf("qdrant index %s: %w", field, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "qdrant request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status: %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// mustConditions builds one exact-match condition per supplied filter, so
// the conjunction always covers the whole filter map. Keys are sorted to
// keep request bodies stable.
func mustConditions(filters map[string]string) []map[string]any {
	keys := make([]string, 0, len(filters))
	for key, v := range filters {
		if v != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	must := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": filters[key]},
		})
	}
	return must
}

func documentFromPayload(id string, payload map[string]any) domain.StoredDocument {
	metadata := make(map[string]string, len(payload))
	var content string
	for k, v := range payload {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		if k == "content" {
			content = s
			continue
		}
		metadata[k] = s
	}
	return domain.StoredDocument{ID: id, Content: content, Metadata: metadata}
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
