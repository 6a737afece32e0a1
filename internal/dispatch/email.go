package dispatch

import (
	"context"
	"fmt"
	"html"
	"io"
	"net"
	"strings"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"github.com/vhvplatform/go-wellness-notifier/internal/resend"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

const (
	// DefaultMaxRetries is the number of attempts after the first
	DefaultMaxRetries = 2
	// DefaultBackoff is multiplied by the attempt number between attempts
	DefaultBackoff = time.Second
)

// EmailSender is the provider client
type EmailSender interface {
	Send(ctx context.Context, email resend.Email) (string, error)
	HealthCheck(ctx context.Context) resend.Health
}

// SuppressionList reports addresses that must not be mailed
type SuppressionList interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// Sleeper waits between attempts; it returns early with ctx's error
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EmailConfig holds email channel settings
type EmailConfig struct {
	From       string
	MaxRetries int
	Backoff    time.Duration
}

// EmailChannel sends transactional email with bounded retry
type EmailChannel struct {
	sender   EmailSender
	suppress SuppressionList
	cfg      EmailConfig
	sleep    Sleeper
	log      *logger.Logger
}

// NewEmailChannel creates the email channel. suppress may be nil.
func NewEmailChannel(sender EmailSender, suppress SuppressionList, cfg EmailConfig, log *logger.Logger) *EmailChannel {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EmailChannel{sender: sender, suppress: suppress, cfg: cfg, sleep: sleepContext, log: log}
}

// WithSleeper replaces the backoff sleeper
func (c *EmailChannel) WithSleeper(s Sleeper) *EmailChannel {
	c.sleep = s
	return c
}

// Name returns the channel name
func (c *EmailChannel) Name() domain.Channel {
	return domain.ChannelEmail
}

// Preflight checks the provider once for a run
func (c *EmailChannel) Preflight(ctx context.Context) *Preflight {
	h := c.sender.HealthCheck(ctx)
	if !h.Healthy {
		c.log.Warn("Email provider preflight failed, email channel skipped for this run", "error", h.Error)
	} else if h.Error != "" {
		c.log.Warn("Email provider preflight inconclusive", "error", h.Error)
	}
	return &Preflight{Healthy: h.Healthy, Error: h.Error}
}

// ValidAddress is the minimal syntactic check applied before sending
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	return len(addr) >= 5 && strings.Contains(addr, "@")
}

// Deliver sends the email. Only 429, 5xx, timeouts and transport errors are
// retried, with a linear backoff of Backoff times the attempt number. A
// cancelled run fails with run_cancelled.
func (c *EmailChannel) Deliver(ctx context.Context, d *Delivery) Outcome {
	if d.Preflight != nil && !d.Preflight.Healthy {
		o := Skipped(domain.ChannelEmail, ReasonSkippedMisconfigured)
		o.Err = d.Preflight.Error
		return o
	}

	addr := strings.TrimSpace(d.Profile.Email)
	if !ValidAddress(addr) {
		return Failed(domain.ChannelEmail, ReasonInvalidAddress, fmt.Errorf("invalid recipient address %q", addr), 0)
	}

	if c.suppress != nil {
		suppressed, err := c.suppress.IsSuppressed(ctx, addr)
		if err != nil {
			c.log.Warn("Suppression lookup failed, sending anyway", "user_id", d.Profile.ID, "error", err)
		} else if suppressed {
			return Skipped(domain.ChannelEmail, ReasonSuppressed)
		}
	}

	email := c.compose(addr, d.Message)
	maxAttempts := 1 + c.cfg.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.cfg.Backoff * time.Duration(attempt-1)
			c.log.Debug("Retrying email", "user_id", d.Profile.ID, "attempt", attempt, "backoff", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return Failed(domain.ChannelEmail, ReasonRunCancelled, errors.Wrap(lastErr, err.Error()), attempt-1)
			}
		}

		_, err := c.sender.Send(ctx, email)
		if err == nil {
			metrics.EmailAttempts.WithLabelValues("ok").Inc()
			return Sent(domain.ChannelEmail, attempt)
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.EmailAttempts.WithLabelValues("cancelled").Inc()
			return Failed(domain.ChannelEmail, ReasonRunCancelled, err, attempt)
		}
		if !retryable(err) {
			metrics.EmailAttempts.WithLabelValues("permanent").Inc()
			return Failed(domain.ChannelEmail, ReasonProviderError, err, attempt)
		}
		metrics.EmailAttempts.WithLabelValues("retryable").Inc()
		c.log.Warn("Email send failed", "user_id", d.Profile.ID, "attempt", attempt, "error", err)
	}

	return Failed(domain.ChannelEmail, ReasonRetriesExhausted, lastErr, maxAttempts)
}

// retryable reports whether a send error is a provider 429/5xx or a
// transport failure. Local errors such as encoding are permanent.
func retryable(err error) bool {
	var pe *resend.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *EmailChannel) compose(addr string, m *Message) resend.Email {
	subject := m.Subject
	if subject == "" {
		subject = m.Title
	}
	body := m.HTML
	if body == "" {
		body = "<p>" + strings.ReplaceAll(html.EscapeString(m.Body), "\n", "<br>") + "</p>"
	}
	return resend.Email{
		From:    c.cfg.From,
		To:      []string{addr},
		Subject: subject,
		HTML:    body,
		Text:    m.Body,
	}
}
