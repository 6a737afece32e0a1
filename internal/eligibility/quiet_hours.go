package eligibility

import (
	"fmt"
	"time"
)

// QuietHours is a daily window in the recipient's local time. The window may
// wrap midnight. A window whose start equals its end is empty.
type QuietHours struct {
	Start int // minutes after midnight
	End   int
}

// ParseQuietHours parses "HH:MM" bounds. Both empty means no quiet hours.
func ParseQuietHours(start, end string) (*QuietHours, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("quiet hours start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("quiet hours end: %w", err)
	}
	return &QuietHours{Start: s, End: e}, nil
}

// Contains reports whether local falls inside the window
func (q *QuietHours) Contains(local time.Time) bool {
	if q == nil || q.Start == q.End {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	if q.Start < q.End {
		return m >= q.Start && m < q.End
	}
	return m >= q.Start || m < q.End
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
