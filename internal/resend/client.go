// Package resend is a client for the Resend transactional email API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"golang.org/x/time/rate"
)

// ErrNotConfigured is returned by Send when no API key is set
var ErrNotConfigured = errors.New("RESEND_API_KEY not configured")

// ProviderError is a non-2xx response from the provider
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("resend returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
// 401 means a bad key and is never retried.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == http.StatusUnauthorized {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Email is one outgoing message
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Health is the result of a preflight check
type Health struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Config holds client settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
}

// Client sends email through the provider's HTTP API
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: limiter,
	}
}

// Send posts one email and returns the provider's message id. Each call is
// bounded by the configured timeout.
func (c *Client) Send(ctx context.Context, email Email) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "wait for rate limiter")
	}

	payload, err := json.Marshal(email)
	if err != nil {
		return "", errors.Wrap(err, "encode email")
	}

	status, body, err := c.do(ctx, http.MethodPost, "/emails", payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &ProviderError{StatusCode: status, Body: truncate(string(body), 300)}
	}
	return gjson.GetBytes(body, "id").String(), nil
}

// HealthCheck verifies the API key by listing domains
func (c *Client) HealthCheck(ctx context.Context) Health {
	if c.cfg.APIKey == "" {
		return Health{Healthy: false, Error: ErrNotConfigured.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	status, _, err := c.do(ctx, http.MethodGet, "/domains", nil)
	switch {
	case err != nil:
		// an unreachable provider is not a misconfiguration; sends retry on their own
		return Health{Healthy: true, Error: "health check inconclusive: " + err.Error()}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Health{Healthy: false, Error: "RESEND_API_KEY rejected by provider"}
	case status >= 500:
		return Health{Healthy: true, Error: fmt.Sprintf("health check inconclusive: status %d", status)}
	case status < 200 || status >= 300:
		return Health{Healthy: false, Error: fmt.Sprintf("unexpected health check status %d", status)}
	}
	return Health{Healthy: true}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read response")
	}
	return resp.StatusCode, body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
