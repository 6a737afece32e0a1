// Package llm is a client for an OpenAI-compatible chat completions gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"golang.org/x/time/rate"
)

// ErrorKind classifies a failed generation
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindQuotaExhausted    ErrorKind = "quota_exhausted"
	KindProviderError     ErrorKind = "provider_error"
	KindTimeout           ErrorKind = "timeout"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// GenerationError is returned for every failed completion
type GenerationError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("generation %s: %s", e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a generation error, or "" for other errors
func KindOf(err error) ErrorKind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the completion request body
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Config holds client settings
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	RPS       float64
}

// Client calls the completions endpoint once per request; it never retries
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
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

// Complete returns the first choice's message content
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	content, err := c.complete(ctx, req)
	if err != nil {
		metrics.LLMCalls.WithLabelValues(string(KindOf(err))).Inc()
		return "", err
	}
	metrics.LLMCalls.WithLabelValues("ok").Inc()
	return content, nil
}

func (c *Client) complete(ctx context.Context, req ChatRequest) (string, error) {
	if c.cfg.APIKey == "" {
		return "", &GenerationError{Kind: KindProviderError, Message: "LLM_API_KEY not configured"}
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", &GenerationError{Kind: KindTimeout, Message: "waiting for rate limiter", Err: err}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", &GenerationError{Kind: KindProviderError, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &GenerationError{Kind: KindProviderError, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", &GenerationError{Kind: KindTimeout, Message: "request timed out", Err: err}
		}
		return "", &GenerationError{Kind: KindProviderError, Message: "send request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return "", &GenerationError{Kind: KindTimeout, StatusCode: resp.StatusCode, Message: "reading response timed out", Err: err}
		}
		return "", &GenerationError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &GenerationError{Kind: KindRateLimited, StatusCode: resp.StatusCode, Message: providerMessage(body)}
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", &GenerationError{Kind: KindQuotaExhausted, StatusCode: resp.StatusCode, Message: providerMessage(body)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &GenerationError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: providerMessage(body)}
	}

	if !gjson.ValidBytes(body) {
		return "", &GenerationError{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Message: "response is not JSON"}
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if content.Type != gjson.String || strings.TrimSpace(content.String()) == "" {
		return "", &GenerationError{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Message: "missing choices[0].message.content"}
	}
	return content.String(), nil
}

// providerMessage extracts a short error message from a provider response
func providerMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if m := gjson.GetBytes(body, "error.message"); m.Exists() {
			return m.String()
		}
		if m := gjson.GetBytes(body, "error"); m.Type == gjson.String {
			return m.String()
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
