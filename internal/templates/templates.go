// Package templates selects static content templates for a recipient while
// honouring each template's cooldown.
package templates

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Times of day a template can target
const (
	Morning   = "morning"
	Afternoon = "afternoon"
	Evening   = "evening"
	Night     = "night"
	AnyTime   = "any"
)

// TimeOfDay buckets a local clock time
func TimeOfDay(local time.Time) string {
	switch h := local.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 22:
		return Evening
	default:
		return Night
	}
}

// InCooldown reports whether a template last delivered at last is still
// cooling down at now
func InCooldown(t *domain.ContentTemplate, last time.Time, now time.Time) bool {
	if last.IsZero() || t.CooldownDays <= 0 {
		return false
	}
	return now.Before(last.Add(time.Duration(t.CooldownDays) * 24 * time.Hour))
}

// Matches reports whether the template's targeting rules accept the profile
// at its local time
func Matches(t *domain.ContentTemplate, p *domain.Profile, local time.Time) bool {
	if !t.Active {
		return false
	}
	if !localeMatches(t.Locale, p.Locale) {
		return false
	}
	if len(t.AgeSegments) > 0 && !contains(t.AgeSegments, p.AgeSegment) {
		return false
	}
	if t.FocusArea != "" && !contains(p.FocusAreas, t.FocusArea) {
		return false
	}
	if t.TimeOfDay != "" && t.TimeOfDay != AnyTime && t.TimeOfDay != TimeOfDay(local) {
		return false
	}
	return true
}

// Pick returns the best template for the profile, skipping any template still
// in cooldown for it. Focus-area matches win, then higher priority, then the
// lower id so the choice is stable.
func Pick(candidates []*domain.ContentTemplate, p *domain.Profile, local time.Time, lastDelivered map[primitive.ObjectID]time.Time, now time.Time) (*domain.ContentTemplate, bool) {
	eligible := make([]*domain.ContentTemplate, 0, len(candidates))
	for _, t := range candidates {
		if !Matches(t, p, local) {
			continue
		}
		if InCooldown(t, lastDelivered[t.ID], now) {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if fa, fb := a.FocusArea != "", b.FocusArea != ""; fa != fb {
			return fa
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID.Hex() < b.ID.Hex()
	})
	return eligible[0], true
}

// DeliveryLookup returns when each template was last delivered to a user
type DeliveryLookup interface {
	LastDelivered(ctx context.Context, userID string, templateIDs []primitive.ObjectID) (map[primitive.ObjectID]time.Time, error)
}

// Gate picks a template for each recipient of one run
type Gate struct {
	candidates []*domain.ContentTemplate
	ids        []primitive.ObjectID
	lookup     DeliveryLookup
	now        func() time.Time
}

// NewGate creates a gate over the run's candidate templates
func NewGate(candidates []*domain.ContentTemplate, lookup DeliveryLookup, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	ids := make([]primitive.ObjectID, 0, len(candidates))
	for _, t := range candidates {
		ids = append(ids, t.ID)
	}
	return &Gate{candidates: candidates, ids: ids, lookup: lookup, now: now}
}

// Choose returns the template for the profile, or nil when none is available
func (g *Gate) Choose(ctx context.Context, p *domain.Profile, local time.Time) (*domain.ContentTemplate, error) {
	if len(g.candidates) == 0 {
		return nil, nil
	}
	last, err := g.lookup.LastDelivered(ctx, p.ID, g.ids)
	if err != nil {
		return nil, err
	}
	t, ok := Pick(g.candidates, p, local, last, g.now())
	if !ok {
		return nil, nil
	}
	return t, nil
}

// Render substitutes {{name}} in a template string
func Render(s string, p *domain.Profile) string {
	return strings.ReplaceAll(s, "{{name}}", p.Name())
}

func localeMatches(templateLocale, profileLocale string) bool {
	if templateLocale == "" || templateLocale == "*" {
		return true
	}
	if profileLocale == "" {
		profileLocale = "en"
	}
	return strings.EqualFold(language(templateLocale), language(profileLocale))
}

func language(locale string) string {
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		return locale[:i]
	}
	return locale
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
