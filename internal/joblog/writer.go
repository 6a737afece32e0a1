// Package joblog writes the one audit row each job invocation owns.
package joblog

import (
	"context"
	"sync"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// finishTimeout bounds the final update, which runs even after the run's
	// own context is done
	finishTimeout = 10 * time.Second

	// MaxInlineDetail caps the recipient entries stored on the job log row so
	// the document stays well under MongoDB's 16 MiB limit. Every channel
	// attempt is still kept as a notification record.
	MaxInlineDetail = 1000
)

// Store persists job logs. Insert must fail with errors.ErrAlreadyClaimed
// when the run key exists.
type Store interface {
	Insert(ctx context.Context, log *domain.JobLog) error
	Finalize(ctx context.Context, id primitive.ObjectID, final Final) error
	MarkStale(ctx context.Context, startedBefore time.Time, reason string) (int64, error)
}

// Final is the end-of-run update
type Final struct {
	Status           domain.JobStatus
	Recipients       int
	Targeted         int
	Sent             int
	Failed           int
	Skipped          int
	RecipientsFailed int
	Detail           []domain.RecipientDetail
	DetailTruncated  bool
	Error            string
	CompletedAt      time.Time
}

// JobStart describes a run being claimed
type JobStart struct {
	RunKey       string
	JobType      domain.JobType
	Window       string
	ManualBypass bool
	TargetUserID string
	Source       string
}

// Writer claims and finalizes job logs
type Writer struct {
	store     Store
	log       *logger.Logger
	now       func() time.Time
	maxDetail int
}

// NewWriter creates a writer
func NewWriter(store Store, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.Nop()
	}
	return &Writer{store: store, log: log, now: time.Now, maxDetail: MaxInlineDetail}
}

// Start inserts the running row. It returns errors.ErrAlreadyClaimed when
// another invocation owns the run key.
func (w *Writer) Start(ctx context.Context, s JobStart) (*Run, error) {
	row := &domain.JobLog{
		ID:           primitive.NewObjectID(),
		RunKey:       s.RunKey,
		JobType:      s.JobType,
		Window:       s.Window,
		Status:       domain.JobStatusRunning,
		ManualBypass: s.ManualBypass,
		TargetUserID: s.TargetUserID,
		Source:       s.Source,
		StartedAt:    w.now(),
	}
	if err := w.store.Insert(ctx, row); err != nil {
		if errors.Is(err, errors.ErrAlreadyClaimed) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "insert job log %s", s.RunKey)
	}
	return &Run{ID: row.ID, RunKey: row.RunKey, JobType: row.JobType, ManualBypass: row.ManualBypass, StartedAt: row.StartedAt, w: w}, nil
}

// ReapStale fails running rows older than maxAge, left behind by a crashed process
func (w *Writer) ReapStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := w.store.MarkStale(ctx, w.now().Add(-maxAge), "abandoned: still running after "+maxAge.String())
	if err != nil {
		return 0, errors.Wrap(err, "mark stale job logs")
	}
	if n > 0 {
		w.log.Warn("Marked abandoned job runs failed", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// Run is a claimed job log row
type Run struct {
	ID           primitive.ObjectID
	RunKey       string
	JobType      domain.JobType
	ManualBypass bool
	StartedAt    time.Time

	w      *Writer
	once   sync.Once
	mu     sync.Mutex
	status domain.JobStatus
}

// Finish writes the final counters and status. Only the first call has any
// effect. It runs on a fresh context so a cancelled run is still finalized.
// When the full update is rejected, counters and status are written again
// without the recipient detail.
func (r *Run) Finish(ctx context.Context, sum dispatch.Summary, runErr error) error {
	var err error
	r.once.Do(func() {
		final := Final{
			Status:           domain.JobStatusCompleted,
			Recipients:       sum.Recipients,
			Targeted:         sum.Targeted,
			Sent:             sum.Sent,
			Failed:           sum.Failed,
			Skipped:          sum.Skipped,
			RecipientsFailed: sum.RecipientsFailed,
			Detail:           sum.Detail,
			CompletedAt:      r.w.now(),
		}
		if runErr != nil {
			final.Status = domain.JobStatusFailed
			final.Error = runErr.Error()
		}
		if len(final.Detail) > r.w.maxDetail {
			final.Detail = final.Detail[:r.w.maxDetail]
			final.DetailTruncated = true
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()

		if err = r.w.store.Finalize(fctx, r.ID, final); err != nil {
			r.w.log.Warn("Job log update rejected, retrying without detail",
				"run_key", r.RunKey, "detail", len(final.Detail), "error", err)
			final.Detail = nil
			final.DetailTruncated = true
			err = r.w.store.Finalize(fctx, r.ID, final)
		}
		if err != nil {
			err = errors.Wrapf(err, "finalize job log %s", r.RunKey)
			return
		}

		r.mu.Lock()
		r.status = final.Status
		r.mu.Unlock()
	})
	return err
}

// Status returns the persisted final status. It stays running until Finish
// has written the row.
func (r *Run) Status() domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == "" {
		return domain.JobStatusRunning
	}
	return r.status
}
