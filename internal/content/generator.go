// Package content writes personalised messages with the LLM gateway.
package content

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/llm"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
)

const (
	// MaxWords caps a daily companion message
	MaxWords = 35
	// DigestMaxWords caps a weekly digest recap
	DigestMaxWords = 120
	// MaxMoods is how many recent mood entries are given to the model
	MaxMoods = 5
	// MaxNoteChars truncates free-text mood notes
	MaxNoteChars = 120
	// DigestDays is the period a digest covers
	DigestDays = 7
)

// Completer is the LLM call the generator depends on
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
}

// MoodSource loads a recipient's recent mood entries, newest first
type MoodSource interface {
	Recent(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.MoodEntry, error)
}

// Generator builds prompts and calls the LLM
type Generator struct {
	llm   Completer
	moods MoodSource
	now   func() time.Time
}

// NewGenerator creates a generator
func NewGenerator(llm Completer, moods MoodSource) *Generator {
	return &Generator{llm: llm, moods: moods, now: time.Now}
}

// Session scopes generation to one job run. Once the provider reports the
// quota exhausted, the session stops calling it.
type Session struct {
	g         *Generator
	exhausted atomic.Bool
}

// NewSession starts a session for one run
func (g *Generator) NewSession() *Session {
	return &Session{g: g}
}

// Exhausted reports whether the quota ran out during this session
func (s *Session) Exhausted() bool {
	return s.exhausted.Load()
}

// DailyMessage writes a short companion message for the window
func (s *Session) DailyMessage(ctx context.Context, p *domain.Profile, window string) (string, error) {
	moods, err := s.g.recentMoods(ctx, p.ID, time.Time{}, MaxMoods)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(
		"Write a %s message for %s in at most %d words. Speak directly to them, no greeting line, no emojis, no hashtags.\n%s",
		windowLabel(window), p.Name(), MaxWords, formatMoods(moods),
	)
	text, err := s.complete(ctx, p, prompt)
	if err != nil {
		return "", err
	}
	return CapWords(text, MaxWords), nil
}

// Digest writes a recap of the recipient's last week
func (s *Session) Digest(ctx context.Context, p *domain.Profile) (string, error) {
	since := s.g.now().AddDate(0, 0, -DigestDays)
	moods, err := s.g.recentMoods(ctx, p.ID, since, 0)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(
		"Write a warm weekly recap for %s in at most %d words. Summarise how their week went from the check-ins below, name one pattern you notice and suggest one small thing to try next week. No emojis.\n%s",
		p.Name(), DigestMaxWords, formatMoods(moods),
	)
	text, err := s.complete(ctx, p, prompt)
	if err != nil {
		return "", err
	}
	return CapWords(text, DigestMaxWords), nil
}

func (s *Session) complete(ctx context.Context, p *domain.Profile, prompt string) (string, error) {
	if s.exhausted.Load() {
		return "", &llm.GenerationError{Kind: llm.KindQuotaExhausted, Message: "quota exhausted earlier in this run"}
	}

	text, err := s.g.llm.Complete(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: Persona(p.Companion).System},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		if llm.KindOf(err) == llm.KindQuotaExhausted {
			s.exhausted.Store(true)
		}
		return "", err
	}
	return text, nil
}

func (g *Generator) recentMoods(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.MoodEntry, error) {
	if g.moods == nil {
		return nil, nil
	}
	moods, err := g.moods.Recent(ctx, userID, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "load mood entries")
	}
	if limit > 0 && len(moods) > limit {
		moods = moods[:limit]
	}
	return moods, nil
}

func windowLabel(window string) string {
	switch window {
	case "morning":
		return "gentle morning check-in"
	case "evening":
		return "calm evening wind-down"
	default:
		return "short encouraging"
	}
}

func formatMoods(moods []*domain.MoodEntry) string {
	if len(moods) == 0 {
		return "They have not logged any moods recently."
	}
	var b strings.Builder
	b.WriteString("Recent mood check-ins:\n")
	for _, m := range moods {
		fmt.Fprintf(&b, "- %s: %s", m.CreatedAt.Format("Mon Jan 2"), m.Mood)
		if m.Score > 0 {
			fmt.Fprintf(&b, " (%d/10)", m.Score)
		}
		if note := Truncate(strings.TrimSpace(m.Note), MaxNoteChars); note != "" {
			fmt.Fprintf(&b, ", note: %q", note)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Truncate shortens s to at most n runes, adding an ellipsis when cut
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// CapWords trims model output to at most n words
func CapWords(s string, n int) string {
	s = strings.Trim(strings.TrimSpace(s), `"“”`)
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}
