// Package policy calls the external policy evaluator that pre-checks
// autonomous executions. Transport failures are surfaced as errors so
// the caller can apply its fail-open decision; only an explicit
// "approved: false" response is a rejection.
package policy

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

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type EvaluateRequest struct {
	SessionID     string `json:"sessionId"`
	WalletAddress string `json:"walletAddress"`
	ActionType    string `json:"actionType"`
	ChainID       int    `json:"chainId"`
	ValueUSD      string `json:"valueUsd"`
	TokenIn       string `json:"tokenIn,omitempty"`
	TokenOut      string `json:"tokenOut,omitempty"`
}

type Violation struct {
	Message string `json:"message"`
}

type EvaluateResult struct {
	Approved   bool        `json:"approved"`
	Violations []Violation `json:"violations"`
}

// ViolationSummary joins violation messages for logging.
func (r *EvaluateResult) ViolationSummary() string {
	if r == nil || len(r.Violations) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		if strings.TrimSpace(v.Message) != "" {
			msgs = append(msgs, strings.TrimSpace(v.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResult, error) {
	if c == nil || c.BaseURL == "" {
		return nil, errors.New("policy base url is empty")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/policy/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(hreq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("policy evaluate http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var result EvaluateResult
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("policy evaluate decode: %w", err)
	}
	return &result, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
