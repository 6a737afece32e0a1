package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/eligibility"
	"github.com/vhvplatform/go-wellness-notifier/internal/joblog"
	"github.com/vhvplatform/go-wellness-notifier/internal/llm"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
	"golang.org/x/sync/errgroup"
)

// Preflighter checks the email provider once per run
type Preflighter interface {
	Preflight(ctx context.Context) *dispatch.Preflight
}

// DeliveryRecorder records template deliveries for cooldown
type DeliveryRecorder interface {
	Record(ctx context.Context, d *domain.TemplateDelivery) error
}

// EventPublisher publishes job lifecycle events
type EventPublisher interface {
	PublishJobCompleted(ctx context.Context, event *domain.JobCompletedEvent) error
}

// RunnerConfig holds runner settings
type RunnerConfig struct {
	Concurrency int
	RunTimeout  time.Duration
	Location    *time.Location
}

// Result is what a run reports back to its trigger
type Result struct {
	JobLogID     string
	RunKey       string
	JobType      domain.JobType
	ManualBypass bool
	Status       domain.JobStatus
	Summary      dispatch.Summary
	Duration     time.Duration
	Err          error
}

// Response renders the result as the job endpoint body
func (r *Result) Response() domain.JobResponse {
	m := r.Summary.Metrics()
	m.DurationMS = r.Duration.Milliseconds()
	resp := domain.JobResponse{
		Success:      r.Err == nil,
		JobLogID:     r.JobLogID,
		RunKey:       r.RunKey,
		ManualBypass: r.ManualBypass,
		Metrics:      m,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

// Runner drives a job through claim, selection, dispatch and finalization
type Runner struct {
	writer     *joblog.Writer
	selector   *eligibility.Selector
	dispatcher *dispatch.Dispatcher
	preflight  Preflighter
	caps       eligibility.CapCounter
	deliveries DeliveryRecorder
	events     EventPublisher
	cfg        RunnerConfig
	log        *logger.Logger
	now        func() time.Time
}

// NewRunner creates a runner
func NewRunner(writer *joblog.Writer, selector *eligibility.Selector, dispatcher *dispatch.Dispatcher, cfg RunnerConfig, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Runner{
		writer:     writer,
		selector:   selector,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// WithEmailPreflight sets the email provider check run before dispatching
func (r *Runner) WithEmailPreflight(p Preflighter) *Runner {
	r.preflight = p
	return r
}

// WithCaps sets the daily cap counter incremented after organic sends
func (r *Runner) WithCaps(c eligibility.CapCounter) *Runner {
	r.caps = c
	return r
}

// WithTemplateDeliveries sets where template deliveries are recorded
func (r *Runner) WithTemplateDeliveries(d DeliveryRecorder) *Runner {
	r.deliveries = d
	return r
}

// WithPublisher sets the job event publisher
func (r *Runner) WithPublisher(p EventPublisher) *Runner {
	r.events = p
	return r
}

// RunKey returns the run key a trigger claims. An explicit run id wins;
// manual runs get a unique key so they never collide with organic runs.
func (r *Runner) RunKey(job Job, t Trigger) string {
	switch {
	case t.RunID != "":
		return t.RunID
	case t.Manual():
		return fmt.Sprintf("%s:manual:%s", job.Type(), uuid.NewString())
	}
	return job.RunKey(t, r.now().In(r.cfg.Location))
}

// Run executes one invocation. It returns errors.ErrAlreadyClaimed, with a
// nil result, when the run key was claimed before. Once the run is claimed
// the result is always returned and the job log is always finalized.
func (r *Runner) Run(ctx context.Context, job Job, t Trigger) (res *Result, err error) {
	start := r.now()
	jobType := job.Type()
	runKey := r.RunKey(job, t)
	log := r.log.With("job", jobType, "run_key", runKey, "manual_bypass", t.Manual(), "source", t.Source)

	run, err := r.writer.Start(ctx, joblog.JobStart{
		RunKey:       runKey,
		JobType:      jobType,
		Window:       t.Window,
		ManualBypass: t.Manual(),
		TargetUserID: t.TargetUserID,
		Source:       t.Source,
	})
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyClaimed) {
			metrics.JobDuplicates.WithLabelValues(string(jobType)).Inc()
			log.Info("Job run already claimed, skipping")
		}
		return nil, err
	}
	log.Info("Job run started", "job_log_id", run.ID.Hex())

	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	res = &Result{JobLogID: run.ID.Hex(), RunKey: runKey, JobType: jobType, ManualBypass: t.Manual()}
	var results []dispatch.RecipientResult

	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("job panicked: %v", p)
			log.Error("Job run panicked", "panic", p, "stack", string(debug.Stack()))
		}

		sum := dispatch.Summarize(results)
		if !sum.Consistent() {
			log.Error("Job counters disagree with recipient detail",
				"targeted", sum.Targeted, "sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped)
		}
		if ferr := run.Finish(ctx, sum, err); ferr != nil {
			log.Error("Failed to finalize job log", "error", ferr)
			if err == nil {
				err = ferr
			}
		}

		res.Summary = sum
		res.Status = run.Status()
		res.Duration = r.now().Sub(start)
		res.Err = err
		r.report(ctx, log, run, res)
	}()

	results, err = r.execute(ctx, log, run, job, t)
	return res, err
}

func (r *Runner) execute(ctx context.Context, log *logger.Logger, run *joblog.Run, job Job, t Trigger) ([]dispatch.RecipientResult, error) {
	plan, err := job.Prepare(ctx, t)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare %s", job.Type())
	}

	sel, err := r.selector.Select(ctx, plan.Audience(), eligibility.ScheduleContext{
		Now:          r.now(),
		Window:       t.Window,
		TargetUserID: t.TargetUserID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "select recipients")
	}
	metrics.RecipientsTargeted.WithLabelValues(string(job.Type()), metrics.ManualLabel(run.ManualBypass)).Add(float64(len(sel.Recipients)))

	var pre *dispatch.Preflight
	if r.preflight != nil && usesChannel(sel.Recipients, domain.ChannelEmail) {
		pre = r.preflight.Preflight(ctx)
	}

	results := make([]dispatch.RecipientResult, len(sel.Recipients))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, rcp := range sel.Recipients {
		g.Go(func() error {
			results[i] = r.process(ctx, log, run, plan, rcp, pre)
			return nil
		})
	}
	_ = g.Wait()

	if q, ok := plan.(QuotaReporter); ok && q.QuotaExhausted() {
		log.Warn("Generation quota exhausted during run, remaining recipients were not generated")
	}

	if err := ctx.Err(); err != nil {
		return results, errors.Wrap(err, "run interrupted")
	}
	return results, nil
}

// process handles one recipient. A panic is contained to the recipient and
// recorded as internal_error on each channel that has no outcome yet.
func (r *Runner) process(ctx context.Context, log *logger.Logger, run *joblog.Run, plan Plan, rcp eligibility.Recipient, pre *dispatch.Preflight) (res dispatch.RecipientResult) {
	d := &dispatch.Delivery{
		Profile:   rcp.Profile,
		JobType:   run.JobType,
		RunKey:    run.RunKey,
		Manual:    run.ManualBypass,
		Preflight: pre,
	}

	defer func() {
		if p := recover(); p != nil {
			stack := string(debug.Stack())
			perr := errors.Newf("recipient panicked: %v", p)
			log.Error("Recipient processing panicked", "user_id", rcp.Profile.ID, "panic", p, "stack", stack)
			// channels that already have an outcome keep it; only the rest are failed
			failed := r.dispatcher.Fail(context.WithoutCancel(ctx), d, dispatch.Missing(rcp.Channels, res), dispatch.ReasonInternalError, perr)
			res.UserID = rcp.Profile.ID
			res.Outcomes = append(res.Outcomes, failed.Outcomes...)
			res.Err = failed.Err
			res.Stack = stack
		}
	}()

	if err := ctx.Err(); err != nil {
		return r.dispatcher.Fail(context.WithoutCancel(ctx), d, rcp.Channels, dispatch.ReasonRunCancelled, err)
	}

	msg, err := plan.Compose(ctx, rcp)
	if err != nil {
		reason := dispatch.ReasonInternalError
		if kind := llm.KindOf(err); kind != "" {
			reason = dispatch.ReasonGenerationPrefix + string(kind)
		}
		log.Warn("Message generation failed", "user_id", rcp.Profile.ID, "reason", reason, "error", err)
		return r.dispatcher.Fail(ctx, d, rcp.Channels, reason, err)
	}

	d.Message = msg
	res = r.dispatcher.Dispatch(ctx, d, rcp.Channels)
	if res.AnySent() {
		r.afterSent(ctx, log, run, rcp)
	}
	return res
}

func (r *Runner) afterSent(ctx context.Context, log *logger.Logger, run *joblog.Run, rcp eligibility.Recipient) {
	if r.caps != nil && !run.ManualBypass {
		if err := r.caps.Increment(ctx, run.JobType, rcp.Profile.ID, rcp.LocalTime); err != nil {
			log.Warn("Failed to increment daily cap", "user_id", rcp.Profile.ID, "error", err)
		}
	}
	if r.deliveries != nil && rcp.Template != nil {
		err := r.deliveries.Record(ctx, &domain.TemplateDelivery{
			TemplateID:  rcp.Template.ID,
			UserID:      rcp.Profile.ID,
			RunKey:      run.RunKey,
			DeliveredAt: r.now(),
		})
		if err != nil {
			log.Warn("Failed to record template delivery", "user_id", rcp.Profile.ID, "template_id", rcp.Template.ID.Hex(), "error", err)
		}
	}
}

func (r *Runner) report(ctx context.Context, log *logger.Logger, run *joblog.Run, res *Result) {
	jobType := string(res.JobType)
	metrics.JobRuns.WithLabelValues(jobType, string(res.Status), metrics.ManualLabel(res.ManualBypass)).Inc()
	metrics.JobDuration.WithLabelValues(jobType).Observe(res.Duration.Seconds())

	kv := []interface{}{
		"status", res.Status,
		"recipients", res.Summary.Recipients,
		"targeted", res.Summary.Targeted,
		"sent", res.Summary.Sent,
		"failed", res.Summary.Failed,
		"skipped", res.Summary.Skipped,
		"recipients_failed", res.Summary.RecipientsFailed,
		"duration_ms", res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		log.Error("Job run failed", append(kv, "error", errors.StackTrace(res.Err))...)
	} else {
		log.Info("Job run completed", kv...)
	}

	if r.events == nil {
		return
	}
	resp := res.Response()
	event := &domain.JobCompletedEvent{
		Type:         domain.EventJobCompleted,
		JobLogID:     res.JobLogID,
		RunKey:       res.RunKey,
		JobType:      res.JobType,
		Status:       res.Status,
		ManualBypass: res.ManualBypass,
		Metrics:      resp.Metrics,
		Error:        resp.Error,
		Timestamp:    r.now(),
	}
	if err := r.events.PublishJobCompleted(context.WithoutCancel(ctx), event); err != nil {
		log.Warn("Failed to publish job event", "job_log_id", run.ID.Hex(), "error", err)
	}
}

func usesChannel(recipients []eligibility.Recipient, ch domain.Channel) bool {
	for _, r := range recipients {
		for _, c := range r.Channels {
			if c == ch {
				return true
			}
		}
	}
	return false
}
