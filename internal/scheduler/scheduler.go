package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

// Triggerer fires a job
type Triggerer interface {
	Trigger(ctx context.Context, job domain.JobType, body []byte) (*TriggerResponse, error)
}

// Reaper fails abandoned job runs
type Reaper interface {
	ReapStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Specs holds the cron expression of each entry; empty disables an entry
type Specs struct {
	Morning      string
	Evening      string
	TriviaStart  string
	TriviaRemind string
	Digest       string
}

// Entry is one scheduled job trigger
type Entry struct {
	Name string
	Spec string
	Job  domain.JobType
	// Body builds the trigger body for the fire time, in the scheduler's zone
	Body func(now time.Time) map[string]string
}

// JobScheduler fires the notification jobs on cron schedules
type JobScheduler struct {
	cron       *cron.Cron
	triggers   Triggerer
	reaper     Reaper
	staleAfter time.Duration
	loc        *time.Location
	log        *logger.Logger
	entries    map[string]cron.EntryID
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(triggers Triggerer, reaper Reaper, staleAfter time.Duration, loc *time.Location, log *logger.Logger) *JobScheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	return &JobScheduler{
		cron:       cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		triggers:   triggers,
		reaper:     reaper,
		staleAfter: staleAfter,
		loc:        loc,
		log:        log,
		entries:    make(map[string]cron.EntryID),
	}
}

// Entries returns the job entries for the configured specs
func Entries(s Specs) []Entry {
	entries := []Entry{
		{Name: "daily_morning", Spec: s.Morning, Job: domain.JobDailyMessages, Body: dailyBody("morning")},
		{Name: "daily_evening", Spec: s.Evening, Job: domain.JobDailyMessages, Body: dailyBody("evening")},
		{Name: "trivia_start", Spec: s.TriviaStart, Job: domain.JobTrivia, Body: triviaBody("start")},
		{Name: "trivia_reminder", Spec: s.TriviaRemind, Job: domain.JobTrivia, Body: triviaBody("reminder")},
		{Name: "generation_digest", Spec: s.Digest, Job: domain.JobGenerationDigest, Body: digestBody},
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Spec != "" {
			out = append(out, e)
		}
	}
	return out
}

// Start registers the entries and the reaper and starts the cron
func (s *JobScheduler) Start(entries []Entry, reaperSpec string) error {
	s.log.Info("Starting job scheduler", "timezone", s.loc.String())

	for _, e := range entries {
		if err := s.register(e); err != nil {
			return fmt.Errorf("register %s: %w", e.Name, err)
		}
	}

	if reaperSpec != "" && s.reaper != nil {
		id, err := s.cron.AddFunc(reaperSpec, s.reap)
		if err != nil {
			return fmt.Errorf("register reaper: %w", err)
		}
		s.entries["stale_run_reaper"] = id
	}

	s.cron.Start()
	s.log.Info("Job scheduler started", "entries", len(s.entries))
	return nil
}

// Stop stops the scheduler and waits for running triggers
func (s *JobScheduler) Stop() {
	s.log.Info("Stopping job scheduler")
	<-s.cron.Stop().Done()
}

func (s *JobScheduler) register(e Entry) error {
	entryID, err := s.cron.AddFunc(e.Spec, func() {
		s.Fire(context.Background(), e, time.Now().In(s.loc))
	})
	if err != nil {
		return err
	}

	s.entries[e.Name] = entryID
	s.log.Info("Registered schedule", "name", e.Name, "schedule", e.Spec, "job", e.Job)
	return nil
}

// Fire triggers one entry for the given time
func (s *JobScheduler) Fire(ctx context.Context, e Entry, now time.Time) {
	body, err := json.Marshal(e.Body(now))
	if err != nil {
		s.log.Error("Failed to build trigger body", "error", err, "name", e.Name)
		return
	}

	s.log.Info("Executing scheduled job", "name", e.Name, "job", e.Job)
	resp, err := s.triggers.Trigger(ctx, e.Job, body)
	if err != nil {
		s.log.Error("Failed to trigger scheduled job", "error", err, "name", e.Name)
		return
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		s.log.Info("Scheduled job already ran", "name", e.Name)
	case resp.StatusCode != http.StatusOK:
		s.log.Error("Scheduled job failed", "name", e.Name, "status", resp.StatusCode, "error", resp.Error)
	default:
		s.log.Info("Successfully executed scheduled job",
			"name", e.Name,
			"run_key", resp.RunKey,
			"sent", resp.Metrics.Sent,
			"failed", resp.Metrics.Failed,
			"skipped", resp.Metrics.Skipped,
		)
	}
}

func (s *JobScheduler) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.reaper.ReapStale(ctx, s.staleAfter); err != nil {
		s.log.Error("Failed to reap stale job runs", "error", err)
	}
}

// WeekKey is the ISO week of t, e.g. 2026-W42
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func dailyBody(window string) func(time.Time) map[string]string {
	return func(now time.Time) map[string]string {
		return map[string]string{
			"windowType": window,
			"runId":      fmt.Sprintf("%s:%s:%s", domain.JobDailyMessages, window, now.Format("2006-01-02")),
		}
	}
}

func triviaBody(kind string) func(time.Time) map[string]string {
	return func(now time.Time) map[string]string {
		week := WeekKey(now)
		return map[string]string{
			"type":     kind,
			"week_key": week,
			"runId":    fmt.Sprintf("%s:%s:%s", domain.JobTrivia, kind, week),
		}
	}
}

func digestBody(now time.Time) map[string]string {
	week := WeekKey(now)
	return map[string]string{
		"digest_key": week,
		"runId":      fmt.Sprintf("%s:%s", domain.JobGenerationDigest, week),
	}
}

// cronLogger adapts the service logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
