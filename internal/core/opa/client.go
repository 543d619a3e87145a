// Package opa fetches partial-evaluation decisions from the policy engine.
//
// The engine answers a decision request with either an unconditional result
// or residual rules in the "concise" format (types.AuthDecision). Callers
// compile the decision with internal/authz and must deny on any error from
// this package.
package opa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/solatis/rowkeeper/internal/types"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultDecisionPath = "/v0/opa/decision"

	// maxResponseSize bounds decision documents read from the engine.
	maxResponseSize = 8 * 1024 * 1024
)

var (
	// ErrPolicyUnavailable wraps transport failures and 5xx responses after
	// retries are exhausted.
	ErrPolicyUnavailable = errors.New("policy engine unavailable")

	// ErrPolicyRejected wraps 4xx responses. Not retried.
	ErrPolicyRejected = errors.New("policy engine rejected request")

	// ErrInvalidDecision wraps undecodable decision documents. Not retried.
	ErrInvalidDecision = errors.New("invalid decision document")
)

// Config configures the policy client.
type Config struct {
	// URL is the engine base URL, e.g. "http://localhost:8181".
	URL string
	// DecisionPath is prepended to the operation path.
	DecisionPath string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint
}

// Request asks for a decision on one operation.
type Request struct {
	// Operation is a slash-separated operation path, e.g. "object/record/read".
	Operation string
	// Input is sent as the policy input document.
	Input map[string]any
	// Unknowns are the references left unresolved by partial evaluation.
	Unknowns []string
}

// Client is an HTTP client for the decision endpoint. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client, filling defaults for zero config fields.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("policy engine URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid policy engine URL: %w", err)
	}
	if cfg.DecisionPath == "" {
		cfg.DecisionPath = defaultDecisionPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// decisionRequest is the request envelope.
type decisionRequest struct {
	Input       map[string]any `json:"input"`
	Unknowns    []string       `json:"unknowns,omitempty"`
	RulesFormat string         `json:"rulesFormat"`
}

// Decide requests a decision, retrying transient failures with exponential
// backoff.
func (c *Client) Decide(ctx context.Context, req Request) (*types.AuthDecision, error) {
	endpoint, err := c.endpoint(req.Operation)
	if err != nil {
		return nil, err
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}
	payload, err := json.Marshal(decisionRequest{
		Input:       input,
		Unknowns:    req.Unknowns,
		RulesFormat: "concise",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal decision request: %w", err)
	}

	attempt := 0
	operation := func() (*types.AuthDecision, error) {
		attempt++
		d, err := c.do(ctx, endpoint, payload)
		if err != nil && errors.Is(err, ErrPolicyUnavailable) {
			c.logger.Warn("policy request failed",
				"operation", req.Operation,
				"attempt", attempt,
				"error", err)
		}
		return d, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	d, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithMaxElapsedTime(c.cfg.Timeout*time.Duration(c.cfg.MaxRetries+1)),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// endpoint joins base URL, decision path and escaped operation segments.
func (c *Client) endpoint(operation string) (string, error) {
	var segs []string
	for _, s := range strings.Split(operation, "/") {
		if s != "" {
			segs = append(segs, url.PathEscape(s))
		}
	}
	if len(segs) == 0 {
		return "", fmt.Errorf("operation is required")
	}
	base := strings.TrimRight(c.cfg.URL, "/")
	path := "/" + strings.Trim(c.cfg.DecisionPath, "/")
	return base + path + "/" + strings.Join(segs, "/"), nil
}

// do performs one attempt. Non-retryable failures are wrapped with
// backoff.Permanent.
func (c *Client) do(ctx context.Context, endpoint string, payload []byte) (*types.AuthDecision, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrPolicyUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrPolicyUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("%w: HTTP %d: %s", ErrPolicyRejected, resp.StatusCode, truncate(body, 256)))
	}

	d, err := types.ParseDecision(body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidDecision, err))
	}
	return d, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
