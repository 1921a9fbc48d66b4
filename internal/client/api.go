// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/ipa/internal/storage"
)

// =============================================================================
// REST CLIENT
// =============================================================================

const (
	// DefaultRequestTimeout bounds one REST call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxRetries applies to idempotent reads only.
	DefaultMaxRetries = 3

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second

	// MaxResponseSize caps a response body.
	MaxResponseSize = 10 * 1024 * 1024
)

// ErrArticleNotFound is returned for a 404 on an article route.
var ErrArticleNotFound = errors.New("article not found")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Health is the /health payload.
type Health struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
	Model     string    `json:"model"`
	Sessions  int       `json:"sessions"`
}

// APIClient calls the server's request/response surface. It is the
// fallback for document operations when the event channel is down.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewAPIClient returns a client for baseURL (for example
// http://localhost:3001).
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/api",
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		},
		maxRetries: DefaultMaxRetries,
	}
}

// WithMaxRetries sets the read retry count.
func (c *APIClient) WithMaxRetries(n int) *APIClient {
	if n < 1 {
		n = 1
	}
	c.maxRetries = n
	return c
}

// Health checks the server.
func (c *APIClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return &h, nil
}

// ListArticles returns stored article names.
func (c *APIClient) ListArticles(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.get(ctx, "/articles", &names); err != nil {
		return nil, fmt.Errorf("failed to get articles: %w", err)
	}
	return names, nil
}

// GetArticle returns the content of name.
func (c *APIClient) GetArticle(ctx context.Context, name string) (string, error) {
	var body struct {
		Content string `json:"content"`
	}
	if err := c.get(ctx, "/articles/"+url.PathEscape(name), &body); err != nil {
		return "", articleError("failed to get article", err)
	}
	return body.Content, nil
}

// Stats returns store statistics.
func (c *APIClient) Stats(ctx context.Context) (*storage.Stats, error) {
	var stats storage.Stats
	if err := c.get(ctx, "/stats", &stats); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

// SaveArticle creates or replaces name and returns the stored name.
func (c *APIClient) SaveArticle(ctx context.Context, name, content string) (string, error) {
	var result struct {
		Filename string `json:"filename"`
	}
	payload := map[string]string{"filename": name, "content": content}
	if err := c.send(ctx, http.MethodPost, "/articles", payload, &result); err != nil {
		return "", fmt.Errorf("failed to save article: %w", err)
	}
	return result.Filename, nil
}

// UpdateArticle replaces the content of name.
func (c *APIClient) UpdateArticle(ctx context.Context, name, content string) error {
	payload := map[string]string{"content": content}
	if err := c.send(ctx, http.MethodPut, "/articles/"+url.PathEscape(name), payload, nil); err != nil {
		return articleError("failed to update article", err)
	}
	return nil
}

// DeleteArticle removes name.
func (c *APIClient) DeleteArticle(ctx context.Context, name string) error {
	if err := c.send(ctx, http.MethodDelete, "/articles/"+url.PathEscape(name), nil, nil); err != nil {
		return articleError("failed to delete article", err)
	}
	return nil
}

func articleError(prefix string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return ErrArticleNotFound
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// =============================================================================
// TRANSPORT HELPERS
// =============================================================================

// get performs a GET with retry and exponential backoff for transient
// failures.
func (c *APIClient) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// send performs a single non-idempotent request.
func (c *APIClient) send(ctx context.Context, method, path string, payload, out any) error {
	return c.do(ctx, method, path, payload, out)
}

func (c *APIClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readResponse reads at most MaxResponseSize bytes.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse decodes {"error": "..."} bodies when present.
func handleErrorResponse(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: status, Message: msg}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	// Connection refused and similar network failures.
	return true
}

// calculateBackoff returns 500ms, 1s, 2s... capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
