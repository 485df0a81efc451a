package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/duyttran/syncline/internal/core/domain"
)

// maxBodyCapture bounds how much of a response body is kept for
// diagnostics.
const maxBodyCapture = 2048

// APIError carries the HTTP-level context of a failed cloud call, consumed
// by the error classifier.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("cloud api %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("cloud api %s: %s", e.Endpoint, e.Message)
}

// Config holds cloud API connection settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to the central cloud service. It implements both the
// session service boundary and the per-item push transport.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a cloud client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// StartSyncSession opens a sync session for the store. Transient failures
// are retried briefly; anything else surfaces to the session manager.
func (c *Client) StartSyncSession(ctx context.Context, storeID string) (*domain.SessionInfo, error) {
	endpoint := fmt.Sprintf("/v1/stores/%s/sync-sessions", storeID)

	var info domain.SessionInfo
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		body, apiErr := c.do(ctx, http.MethodPost, endpoint, nil)
		if apiErr != nil {
			if apiErr.StatusCode == 0 || apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return fmt.Errorf("decode session response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if info.RevocationStatus == "" {
		info.RevocationStatus = domain.RevocationValid
	}
	return &info, nil
}

// CompleteSyncSession closes a session with aggregated statistics.
func (c *Client) CompleteSyncSession(ctx context.Context, sessionID string, lastSequence int64, stats domain.CycleStats) error {
	endpoint := fmt.Sprintf("/v1/sync-sessions/%s/complete", sessionID)
	payload, err := json.Marshal(struct {
		LastSequence int64             `json:"last_sequence"`
		Stats        domain.CycleStats `json:"stats"`
	}{lastSequence, stats})
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, apiErr := c.do(ctx, http.MethodPost, endpoint, payload)
		if apiErr != nil {
			if apiErr.StatusCode == 0 || apiErr.StatusCode >= 500 {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}
		return nil
	})
}

// Push delivers one queue item. On failure it returns an *APIError so the
// classifier can see the status code, message and Retry-After hint.
func (c *Client) Push(ctx context.Context, item *domain.QueueItem) error {
	endpoint := fmt.Sprintf("/v1/stores/%s/%s", item.StoreID, item.EntityType)
	payload, err := json.Marshal(struct {
		EntityID  string          `json:"entity_id"`
		Operation string          `json:"operation"`
		Data      json.RawMessage `json:"data"`
	}{item.EntityID, string(item.Operation), item.Payload})
	if err != nil {
		return &APIError{Endpoint: endpoint, Message: fmt.Sprintf("serialization failed: %v", err)}
	}

	_, apiErr := c.do(ctx, http.MethodPost, endpoint, payload)
	if apiErr != nil {
		return apiErr
	}
	return nil
}

// do executes one request and normalizes failures into *APIError.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, *APIError) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, &APIError{Endpoint: endpoint, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Endpoint: endpoint, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			RetryAfter: resp.Header.Get("Retry-After"),
			Endpoint:   endpoint,
			Body:       string(body),
		}
	}

	return body, nil
}
