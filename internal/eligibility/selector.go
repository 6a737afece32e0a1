// Package eligibility selects the recipients of a job run.
package eligibility

import (
	"context"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

// Exclusion reasons, reported as counts on the selection
const (
	ExcludedOptOut       = "opted_out"
	ExcludedNoChannel    = "no_channel"
	ExcludedGate         = "gated"
	ExcludedQuietHours   = "quiet_hours"
	ExcludedDailyCap     = "daily_cap"
	ExcludedNoTemplate   = "no_template"
	ExcludedLookupFailed = "lookup_failed"
)

// ProfileSource loads recipient profiles
type ProfileSource interface {
	FindOptedIn(ctx context.Context) ([]*domain.Profile, error)
	FindByID(ctx context.Context, id string) (*domain.Profile, error)
}

// TemplateGate picks a template for a recipient; nil means none available
type TemplateGate interface {
	Choose(ctx context.Context, p *domain.Profile, local time.Time) (*domain.ContentTemplate, error)
}

// Audience describes who a notification family may reach
type Audience struct {
	Family              domain.JobType
	Channels            []domain.Channel
	RequireSubscription bool
	RequiredRoles       []string // any of
	DailyCap            int      // 0 disables the cap
	Templates           TemplateGate
}

// ScheduleContext is the time and trigger a selection runs for
type ScheduleContext struct {
	Now          time.Time
	Window       string
	TargetUserID string
}

// Recipient is one selected profile with what to send it
type Recipient struct {
	Profile   *domain.Profile
	Channels  []domain.Channel
	Template  *domain.ContentTemplate
	LocalTime time.Time
}

// Selection is the result of a selection
type Selection struct {
	Recipients   []Recipient
	ManualBypass bool
	Considered   int
	Excluded     map[string]int
}

func (s *Selection) exclude(reason string) {
	s.Excluded[reason]++
}

// Selector applies the eligibility rules to profiles
type Selector struct {
	profiles ProfileSource
	caps     CapCounter
	log      *logger.Logger
}

// NewSelector creates a selector. caps may be nil to disable daily caps.
func NewSelector(profiles ProfileSource, caps CapCounter, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.Nop()
	}
	return &Selector{profiles: profiles, caps: caps, log: log}
}

// Select returns the recipients of one run. With a target user id it loads
// only that profile and skips the opt-in, quiet hours and daily cap checks.
func (s *Selector) Select(ctx context.Context, aud Audience, sc ScheduleContext) (*Selection, error) {
	if sc.Now.IsZero() {
		sc.Now = time.Now()
	}
	sel := &Selection{Excluded: make(map[string]int)}

	var profiles []*domain.Profile
	if sc.TargetUserID != "" {
		p, err := s.profiles.FindByID(ctx, sc.TargetUserID)
		if err != nil {
			return nil, errors.Wrapf(err, "load target profile %s", sc.TargetUserID)
		}
		profiles = []*domain.Profile{p}
		sel.ManualBypass = true
		s.log.Info("Manual selection", "family", aud.Family, "user_id", sc.TargetUserID, "manual_bypass", true)
	} else {
		var err error
		profiles, err = s.profiles.FindOptedIn(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "load opted-in profiles")
		}
	}

	sel.Considered = len(profiles)
	for _, p := range profiles {
		if r, reason := s.evaluate(ctx, aud, sc, sel.ManualBypass, p); reason != "" {
			sel.exclude(reason)
		} else {
			sel.Recipients = append(sel.Recipients, r)
		}
	}

	s.log.Info("Selected recipients",
		"family", aud.Family,
		"window", sc.Window,
		"considered", sel.Considered,
		"selected", len(sel.Recipients),
		"excluded", sel.Excluded,
		"manual_bypass", sel.ManualBypass,
	)
	return sel, nil
}

func (s *Selector) evaluate(ctx context.Context, aud Audience, sc ScheduleContext, manual bool, p *domain.Profile) (Recipient, string) {
	local := sc.Now.In(p.Location())
	r := Recipient{Profile: p, LocalTime: local}

	if !manual && !p.NotificationsEnabled {
		return r, ExcludedOptOut
	}

	for _, ch := range aud.Channels {
		if p.PreferredChannel.Allows(ch) {
			r.Channels = append(r.Channels, ch)
		}
	}
	if len(r.Channels) == 0 {
		return r, ExcludedNoChannel
	}

	if aud.RequireSubscription && !p.SubscriptionActive {
		return r, ExcludedGate
	}
	if len(aud.RequiredRoles) > 0 && !hasAnyRole(p, aud.RequiredRoles) {
		return r, ExcludedGate
	}

	if !manual {
		qh, err := ParseQuietHours(p.QuietHoursStart, p.QuietHoursEnd)
		if err != nil {
			s.log.Warn("Ignoring malformed quiet hours", "user_id", p.ID, "error", err)
		} else if qh.Contains(local) {
			return r, ExcludedQuietHours
		}

		if aud.DailyCap > 0 && s.caps != nil {
			n, err := s.caps.Count(ctx, aud.Family, p.ID, local)
			if err != nil {
				s.log.Warn("Daily cap lookup failed", "user_id", p.ID, "error", err)
				return r, ExcludedLookupFailed
			}
			if n >= aud.DailyCap {
				return r, ExcludedDailyCap
			}
		}
	}

	if aud.Templates != nil {
		t, err := aud.Templates.Choose(ctx, p, local)
		if err != nil {
			s.log.Warn("Template lookup failed", "user_id", p.ID, "error", err)
			return r, ExcludedLookupFailed
		}
		if t == nil {
			return r, ExcludedNoTemplate
		}
		r.Template = t
	}

	return r, ""
}

func hasAnyRole(p *domain.Profile, roles []string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}
