package dispatch

import (
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
)

// Summary aggregates a run. Counters are per channel attempt, so
// Sent+Failed+Skipped always equals Targeted.
type Summary struct {
	Recipients       int
	Targeted         int
	Sent             int
	Failed           int
	Skipped          int
	RecipientsFailed int
	Detail           []domain.RecipientDetail
}

// Summarize folds recipient results into a summary
func Summarize(results []RecipientResult) Summary {
	s := Summary{
		Recipients: len(results),
		Detail:     make([]domain.RecipientDetail, 0, len(results)),
	}
	for _, r := range results {
		for _, o := range r.Outcomes {
			s.Targeted++
			switch o.Kind {
			case KindSent:
				s.Sent++
			case KindFailed:
				s.Failed++
			case KindSkipped:
				s.Skipped++
			}
		}
		if r.FullyFailed() {
			s.RecipientsFailed++
		}
		s.Detail = append(s.Detail, r.Detail())
	}
	return s
}

// Consistent reports whether the counters agree with each other and with
// the detail
func (s Summary) Consistent() bool {
	if s.Sent+s.Failed+s.Skipped != s.Targeted {
		return false
	}
	var sent, failed, skipped int
	for _, d := range s.Detail {
		for _, c := range d.Channels {
			switch c.Status {
			case domain.NotificationStatusSent:
				sent++
			case domain.NotificationStatusFailed:
				failed++
			case domain.NotificationStatusSkipped:
				skipped++
			}
		}
	}
	return sent == s.Sent && failed == s.Failed && skipped == s.Skipped
}

// Metrics returns the reported counters
func (s Summary) Metrics() domain.JobMetrics {
	return domain.JobMetrics{
		Recipients:       s.Recipients,
		Targeted:         s.Targeted,
		Sent:             s.Sent,
		Failed:           s.Failed,
		Skipped:          s.Skipped,
		RecipientsFailed: s.RecipientsFailed,
	}
}
