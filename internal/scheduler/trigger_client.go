package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
)

var jobPaths = map[domain.JobType]string{
	domain.JobDailyMessages:    "/jobs/daily-messages",
	domain.JobTrivia:           "/jobs/trivia",
	domain.JobGenerationDigest: "/jobs/generation-digest",
}

// JobPath returns the endpoint path of a job
func JobPath(job domain.JobType) (string, bool) {
	p, ok := jobPaths[job]
	return p, ok
}

// TriggerResponse is a job endpoint's answer
type TriggerResponse struct {
	StatusCode int
	Duplicate  bool `json:"duplicate"`
	domain.JobResponse
}

// TriggerClient signs job trigger bodies and posts them to the service
type TriggerClient struct {
	baseURL    string
	secret     []byte
	httpClient *http.Client
}

// NewTriggerClient creates a trigger client. Runs can be long, so the
// timeout should exceed the job run timeout.
func NewTriggerClient(baseURL, secret string, timeout time.Duration) *TriggerClient {
	return &TriggerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Trigger posts body to the job endpoint
func (c *TriggerClient) Trigger(ctx context.Context, job domain.JobType, body []byte) (*TriggerResponse, error) {
	path, ok := JobPath(job)
	if !ok {
		return nil, errors.Newf("unknown job %q", job)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build trigger request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.Sign(c.secret, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "post %s", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read trigger response")
	}

	out := &TriggerResponse{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return out, fmt.Errorf("decode trigger response (status %d): %w", resp.StatusCode, err)
		}
	}
	return out, nil
}
