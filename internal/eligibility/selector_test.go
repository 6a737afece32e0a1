package eligibility

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
)

type fakeProfiles struct {
	all []*domain.Profile
}

func (f *fakeProfiles) FindOptedIn(context.Context) ([]*domain.Profile, error) {
	// deliberately returns everyone so the selector's own opt-in check is exercised
	return f.all, nil
}

func (f *fakeProfiles) FindByID(_ context.Context, id string) (*domain.Profile, error) {
	for _, p := range f.all {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.New("not found")
}

type fakeCaps struct {
	counts map[string]int
}

func (f *fakeCaps) Count(_ context.Context, family domain.JobType, userID string, day time.Time) (int, error) {
	return f.counts[CapKey(family, userID, day)], nil
}

func (f *fakeCaps) Increment(_ context.Context, family domain.JobType, userID string, day time.Time) error {
	f.counts[CapKey(family, userID, day)]++
	return nil
}

type fakeGate struct {
	template *domain.ContentTemplate
	deny     map[string]bool
}

func (g *fakeGate) Choose(_ context.Context, p *domain.Profile, _ time.Time) (*domain.ContentTemplate, error) {
	if g.deny[p.ID] {
		return nil, nil
	}
	return g.template, nil
}

var noon = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func dailyAudience() Audience {
	return Audience{
		Family:   domain.JobDailyMessages,
		Channels: []domain.Channel{domain.ChannelInApp, domain.ChannelEmail},
		DailyCap: 2,
	}
}

func profile(id string, mod func(*domain.Profile)) *domain.Profile {
	p := &domain.Profile{
		ID:                   id,
		FirstName:            "User " + id,
		Email:                id + "@example.com",
		NotificationsEnabled: true,
		PreferredChannel:     domain.PreferBoth,
	}
	if mod != nil {
		mod(p)
	}
	return p
}

func ids(sel *Selection) []string {
	out := make([]string, 0, len(sel.Recipients))
	for _, r := range sel.Recipients {
		out = append(out, r.Profile.ID)
	}
	return out
}

func TestSelect_NeverIncludesOptedOutRecipients(t *testing.T) {
	var all []*domain.Profile
	for i := 0; i < 20; i++ {
		i := i
		all = append(all, profile(fmt.Sprintf("u%d", i), func(p *domain.Profile) {
			p.NotificationsEnabled = i%3 != 0
		}))
	}
	s := NewSelector(&fakeProfiles{all: all}, nil, nil)

	for h := 0; h < 24; h++ {
		for _, window := range []string{"morning", "evening"} {
			sel, err := s.Select(context.Background(), dailyAudience(), ScheduleContext{
				Now:    noon.Add(time.Duration(h) * time.Hour),
				Window: window,
			})
			require.NoError(t, err)
			for _, r := range sel.Recipients {
				require.True(t, r.Profile.NotificationsEnabled, "opted-out %s selected", r.Profile.ID)
			}
			assert.Equal(t, 7, sel.Excluded[ExcludedOptOut])
		}
	}
}

func TestSelect_ChannelsFollowPreference(t *testing.T) {
	all := []*domain.Profile{
		profile("both", nil),
		profile("app", func(p *domain.Profile) { p.PreferredChannel = domain.PreferInApp }),
		profile("mail", func(p *domain.Profile) { p.PreferredChannel = domain.PreferEmail }),
	}
	s := NewSelector(&fakeProfiles{all: all}, nil, nil)

	sel, err := s.Select(context.Background(), dailyAudience(), ScheduleContext{Now: noon})
	require.NoError(t, err)
	require.Len(t, sel.Recipients, 3)
	assert.Equal(t, []domain.Channel{domain.ChannelInApp, domain.ChannelEmail}, sel.Recipients[0].Channels)
	assert.Equal(t, []domain.Channel{domain.ChannelInApp}, sel.Recipients[1].Channels)
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, sel.Recipients[2].Channels)

	emailOnly := Audience{Family: domain.JobGenerationDigest, Channels: []domain.Channel{domain.ChannelEmail}}
	sel, err = s.Select(context.Background(), emailOnly, ScheduleContext{Now: noon})
	require.NoError(t, err)
	assert.Equal(t, []string{"both", "mail"}, ids(sel))
	assert.Equal(t, 1, sel.Excluded[ExcludedNoChannel])
}

func TestSelect_QuietHoursUseLocalTime(t *testing.T) {
	all := []*domain.Profile{
		// 12:00 UTC is 21:00 in Tokyo
		profile("tokyo", func(p *domain.Profile) {
			p.Timezone = "Asia/Tokyo"
			p.QuietHoursStart, p.QuietHoursEnd = "20:00", "08:00"
		}),
		profile("utc", func(p *domain.Profile) {
			p.QuietHoursStart, p.QuietHoursEnd = "20:00", "08:00"
		}),
		profile("broken", func(p *domain.Profile) {
			p.QuietHoursStart, p.QuietHoursEnd = "late", "08:00"
		}),
	}
	s := NewSelector(&fakeProfiles{all: all}, nil, nil)

	sel, err := s.Select(context.Background(), dailyAudience(), ScheduleContext{Now: noon})
	require.NoError(t, err)
	assert.Equal(t, []string{"utc", "broken"}, ids(sel))
	assert.Equal(t, 1, sel.Excluded[ExcludedQuietHours])
}

func TestSelect_DailyCap(t *testing.T) {
	all := []*domain.Profile{profile("u1", nil), profile("u2", nil)}
	caps := &fakeCaps{counts: map[string]int{}}
	caps.counts[CapKey(domain.JobDailyMessages, "u1", noon)] = 2
	s := NewSelector(&fakeProfiles{all: all}, caps, nil)

	sel, err := s.Select(context.Background(), dailyAudience(), ScheduleContext{Now: noon})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(sel))
	assert.Equal(t, 1, sel.Excluded[ExcludedDailyCap])
}

func TestSelect_SubscriptionAndRoleGates(t *testing.T) {
	all := []*domain.Profile{
		profile("free", nil),
		profile("paid", func(p *domain.Profile) { p.SubscriptionActive = true }),
		profile("beta", func(p *domain.Profile) { p.SubscriptionActive = true; p.Roles = []string{"beta"} }),
	}
	s := NewSelector(&fakeProfiles{all: all}, nil, nil)

	aud := dailyAudience()
	aud.RequireSubscription = true
	sel, err := s.Select(context.Background(), aud, ScheduleContext{Now: noon})
	require.NoError(t, err)
	assert.Equal(t, []string{"paid", "beta"}, ids(sel))

	aud.RequiredRoles = []string{"beta", "staff"}
	sel, err = s.Select(context.Background(), aud, ScheduleContext{Now: noon})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, ids(sel))
}

func TestSelect_TemplateGate(t *testing.T) {
	tmpl := &domain.ContentTemplate{Title: "Trivia"}
	all := []*domain.Profile{profile("u1", nil), profile("u2", nil)}
	s := NewSelector(&fakeProfiles{all: all}, nil, nil)

	aud := dailyAudience()
	aud.Family = domain.JobTrivia
	aud.Templates = &fakeGate{template: tmpl, deny: map[string]bool{"u2": true}}

	sel, err := s.Select(context.Background(), aud, ScheduleContext{Now: noon})
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, ids(sel))
	assert.Same(t, tmpl, sel.Recipients[0].Template)
	assert.Equal(t, 1, sel.Excluded[ExcludedNoTemplate])
}

func TestSelect_ManualBypass(t *testing.T) {
	target := profile("tester", func(p *domain.Profile) {
		p.NotificationsEnabled = false
		p.QuietHoursStart, p.QuietHoursEnd = "00:00", "23:59"
	})
	caps := &fakeCaps{counts: map[string]int{CapKey(domain.JobDailyMessages, "tester", noon): 10}}
	s := NewSelector(&fakeProfiles{all: []*domain.Profile{profile("other", nil), target}}, caps, nil)

	sel, err := s.Select(context.Background(), dailyAudience(), ScheduleContext{Now: noon, Window: "manual", TargetUserID: "tester"})
	require.NoError(t, err)
	assert.True(t, sel.ManualBypass)
	assert.Equal(t, []string{"tester"}, ids(sel))

	// template availability still applies
	aud := dailyAudience()
	aud.Templates = &fakeGate{deny: map[string]bool{"tester": true}}
	sel, err = s.Select(context.Background(), aud, ScheduleContext{Now: noon, TargetUserID: "tester"})
	require.NoError(t, err)
	assert.Empty(t, sel.Recipients)

	_, err = s.Select(context.Background(), dailyAudience(), ScheduleContext{Now: noon, TargetUserID: "missing"})
	assert.Error(t, err)
}
