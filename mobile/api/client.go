// Package api is the device-side HTTP client for the ingestion and
// catalog endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"p9e.in/rdiesel/models"
)

// ValidationError is a permanent 4xx rejection from the server. Retrying
// the same payload cannot succeed; the reconciler must not loop on it.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.Message)
}

// Client talks to the rdiesel backend. Server errors (5xx) and transport
// failures come back as ordinary errors and are treated as transient.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchCatalog retrieves the full reference snapshot.
func (c *Client) FetchCatalog(ctx context.Context) (*models.CatalogSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/sync/catalogo", nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: unexpected status %d", resp.StatusCode)
	}

	var snapshot models.CatalogSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &snapshot, nil
}

// SubmitLoading uploads one loading. A duplicate id is reported as success
// with Duplicate set; that is the idempotency contract.
func (c *Client) SubmitLoading(ctx context.Context, payload *models.SyncLoadingRequest) (*models.SyncLoadingResponse, error) {
	body, err := c.post(ctx, "/api/sync/cargas", payload)
	if err != nil {
		return nil, err
	}

	var result models.SyncLoadingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	return &result, nil
}

// SubmitBatch uploads several loadings in one request and returns the
// per-item report.
func (c *Client) SubmitBatch(ctx context.Context, payloads []models.SyncLoadingRequest) (*models.SyncBatchResponse, error) {
	body, err := c.post(ctx, "/api/sync/cargas/batch", payloads)
	if err != nil {
		return nil, err
	}

	var result models.SyncBatchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &ValidationError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("post %s: server error %d", path, resp.StatusCode)
	}

	return body, nil
}
