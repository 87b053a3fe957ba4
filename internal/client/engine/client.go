// Package engine is the HTTP client for the external execution engine
// that builds and submits the actual on-chain transactions. A 2xx
// response acknowledges dispatch only; completion and failure arrive
// later through the /internal callback endpoints.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// InternalSecretHeader authenticates service-to-service calls in both
// directions: this client sets it, and the executor echoes it back on
// callbacks.
const InternalSecretHeader = "X-Internal-Secret"

type Client struct {
	BaseURL string
	Secret  string
	HTTP    *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Secret:  strings.TrimSpace(secret),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type executeStrategyRequest struct {
	ExecutionID uint64          `json:"executionId"`
	StrategyID  uint64          `json:"strategyId"`
	Config      json.RawMessage `json:"config,omitempty"`
}

type executeDCARequest struct {
	StrategyID uint64 `json:"strategyId"`
}

// ExecuteStrategy dispatches a generic strategy execution.
func (c *Client) ExecuteStrategy(ctx context.Context, executionID, strategyID uint64, config json.RawMessage) error {
	return c.post(ctx, "/strategies/execute", executeStrategyRequest{
		ExecutionID: executionID,
		StrategyID:  strategyID,
		Config:      config,
	})
}

// ExecuteDCA dispatches the recurring-buy fast path.
func (c *Client) ExecuteDCA(ctx context.Context, strategyID uint64) error {
	return c.post(ctx, "/dca/execute", executeDCARequest{StrategyID: strategyID})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c == nil || c.BaseURL == "" {
		return errors.New("engine base url is empty")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Secret != "" {
		req.Header.Set(InternalSecretHeader, c.Secret)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("engine %s http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}
