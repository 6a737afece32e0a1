package joblog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	apperrors "github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memStore struct {
	mu        sync.Mutex
	rows      map[string]*domain.JobLog
	finals    []Final
	finalCtx  error
	insertErr error

	// maxDetail rejects updates carrying more entries, like an oversized document
	maxDetail   int
	finalizeErr error
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*domain.JobLog{}}
}

func (m *memStore) Insert(_ context.Context, log *domain.JobLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.rows[log.RunKey]; ok {
		return apperrors.ErrAlreadyClaimed
	}
	m.rows[log.RunKey] = log
	return nil
}

func (m *memStore) Finalize(ctx context.Context, id primitive.ObjectID, final Final) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalCtx = ctx.Err()
	m.finals = append(m.finals, final)
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	if m.maxDetail > 0 && len(final.Detail) > m.maxDetail {
		return errors.New("document too large")
	}
	for _, row := range m.rows {
		if row.ID == id {
			row.Status = final.Status
		}
	}
	return nil
}

func (m *memStore) MarkStale(_ context.Context, before time.Time, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.Status == domain.JobStatusRunning && row.StartedAt.Before(before) {
			row.Status = domain.JobStatusFailed
			n++
		}
	}
	return n, nil
}

func TestStart_ClaimsRunKeyOnce(t *testing.T) {
	w := NewWriter(newMemStore(), nil)
	start := JobStart{RunKey: "trivia:start:2026-W42", JobType: domain.JobTrivia}

	run, err := w.Start(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, run.Status())

	_, err = w.Start(context.Background(), start)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyClaimed)
}

func TestStart_WrapsStoreErrors(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("connection refused")

	_, err := NewWriter(store, nil).Start(context.Background(), JobStart{RunKey: "k"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrAlreadyClaimed)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFinish_OnlyOnce(t *testing.T) {
	store := newMemStore()
	run, err := NewWriter(store, nil).Start(context.Background(), JobStart{RunKey: "k", JobType: domain.JobDailyMessages})
	require.NoError(t, err)

	sum := dispatch.Summarize([]dispatch.RecipientResult{
		{UserID: "u1", Outcomes: []dispatch.Outcome{dispatch.Sent(domain.ChannelInApp, 1)}},
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = run.Finish(context.Background(), sum, nil)
		}()
	}
	wg.Wait()
	require.NoError(t, run.Finish(context.Background(), dispatch.Summary{}, errors.New("late")))

	require.Len(t, store.finals, 1)
	assert.Equal(t, domain.JobStatusCompleted, store.finals[0].Status)
	assert.Equal(t, 1, store.finals[0].Sent)
	assert.Equal(t, domain.JobStatusCompleted, run.Status())
}

func TestFinish_FailedRunOnCancelledContext(t *testing.T) {
	store := newMemStore()
	run, err := NewWriter(store, nil).Start(context.Background(), JobStart{RunKey: "k"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, run.Finish(ctx, dispatch.Summary{}, errors.New("load profiles: timeout")))

	require.Len(t, store.finals, 1)
	assert.Equal(t, domain.JobStatusFailed, store.finals[0].Status)
	assert.Equal(t, "load profiles: timeout", store.finals[0].Error)
	assert.NoError(t, store.finalCtx, "finalize must not inherit cancellation")
}

func TestReapStale(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store, nil)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	w.now = func() time.Time { return now.Add(-2 * time.Hour) }
	_, err := w.Start(context.Background(), JobStart{RunKey: "old"})
	require.NoError(t, err)
	w.now = func() time.Time { return now }
	_, err = w.Start(context.Background(), JobStart{RunKey: "fresh"})
	require.NoError(t, err)

	n, err := w.ReapStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, domain.JobStatusFailed, store.rows["old"].Status)
	assert.Equal(t, domain.JobStatusRunning, store.rows["fresh"].Status)
}

func summaryOf(n int) dispatch.Summary {
	results := make([]dispatch.RecipientResult, n)
	for i := range results {
		results[i] = dispatch.RecipientResult{
			UserID:   fmt.Sprintf("u%d", i),
			Outcomes: []dispatch.Outcome{dispatch.Sent(domain.ChannelInApp, 1)},
		}
	}
	return dispatch.Summarize(results)
}

func TestFinish_CapsInlineDetail(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store, nil)
	w.maxDetail = 3
	run, err := w.Start(context.Background(), JobStart{RunKey: "k"})
	require.NoError(t, err)

	require.NoError(t, run.Finish(context.Background(), summaryOf(5), nil))

	require.Len(t, store.finals, 1)
	assert.Len(t, store.finals[0].Detail, 3)
	assert.True(t, store.finals[0].DetailTruncated)
	assert.Equal(t, 5, store.finals[0].Sent)
	assert.Equal(t, domain.JobStatusCompleted, run.Status())
}

func TestFinish_RetriesWithoutDetailWhenUpdateRejected(t *testing.T) {
	store := newMemStore()
	store.maxDetail = 2
	run, err := NewWriter(store, nil).Start(context.Background(), JobStart{RunKey: "k"})
	require.NoError(t, err)

	require.NoError(t, run.Finish(context.Background(), summaryOf(4), nil))

	require.Len(t, store.finals, 2)
	last := store.finals[1]
	assert.Nil(t, last.Detail)
	assert.True(t, last.DetailTruncated)
	assert.Equal(t, 4, last.Sent)
	assert.Equal(t, 4, last.Targeted)
	assert.Equal(t, domain.JobStatusCompleted, store.rows["k"].Status)
	assert.Equal(t, domain.JobStatusCompleted, run.Status())
}

func TestFinish_StatusStaysRunningWhenNotPersisted(t *testing.T) {
	store := newMemStore()
	store.finalizeErr = errors.New("no primary")
	run, err := NewWriter(store, nil).Start(context.Background(), JobStart{RunKey: "k"})
	require.NoError(t, err)

	err = run.Finish(context.Background(), summaryOf(1), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no primary")
	assert.Len(t, store.finals, 2)
	assert.Equal(t, domain.JobStatusRunning, run.Status())
}
