package dispatch

import (
	"context"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

// Dispatcher sends a recipient's message over each planned channel and
// appends one notification record per attempt
type Dispatcher struct {
	channels map[domain.Channel]Channel
	records  RecordStore
	log      *logger.Logger
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(records RecordStore, log *logger.Logger, channels ...Channel) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	m := make(map[domain.Channel]Channel, len(channels))
	for _, ch := range channels {
		m[ch.Name()] = ch
	}
	return &Dispatcher{channels: m, records: records, log: log}
}

// Dispatch delivers d over each channel in order. A channel that panics
// fails with internal_error; the other channels are still attempted.
func (p *Dispatcher) Dispatch(ctx context.Context, d *Delivery, channels []domain.Channel) RecipientResult {
	res := RecipientResult{UserID: d.Profile.ID, TemplateID: d.Message.TemplateID}
	for _, name := range channels {
		var o Outcome
		if ch, ok := p.channels[name]; ok {
			o = p.deliver(ctx, ch, d)
		} else {
			o = Skipped(name, "channel_unavailable")
		}
		p.record(ctx, d, o)
		res.Outcomes = append(res.Outcomes, o)
	}
	return res
}

func (p *Dispatcher) deliver(ctx context.Context, ch Channel, d *Delivery) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Channel panicked", "user_id", d.Profile.ID, "channel", ch.Name(), "panic", r)
			o = Failed(ch.Name(), ReasonInternalError, errors.Newf("channel panicked: %v", r), 0)
		}
	}()
	return ch.Deliver(ctx, d)
}

// Missing returns the channels that have no outcome in res yet
func Missing(channels []domain.Channel, res RecipientResult) []domain.Channel {
	var out []domain.Channel
	for _, name := range channels {
		found := false
		for _, o := range res.Outcomes {
			if o.Channel == name {
				found = true
				break
			}
		}
		if !found {
			out = append(out, name)
		}
	}
	return out
}

// Fail records every planned channel as failed without attempting delivery.
// It is used when the message could not be produced.
func (p *Dispatcher) Fail(ctx context.Context, d *Delivery, channels []domain.Channel, reason string, err error) RecipientResult {
	res := RecipientResult{UserID: d.Profile.ID}
	if err != nil {
		res.Err = err.Error()
	}
	if d.Message == nil {
		d.Message = &Message{}
	}
	for _, name := range channels {
		o := Failed(name, reason, err, 0)
		p.record(ctx, d, o)
		res.Outcomes = append(res.Outcomes, o)
	}
	return res
}

func (p *Dispatcher) record(ctx context.Context, d *Delivery, o Outcome) {
	metrics.ChannelOutcomes.WithLabelValues(string(d.JobType), string(o.Channel), string(o.Kind), o.Reason, metrics.ManualLabel(d.Manual)).Inc()
	if o.recorded {
		return
	}

	rec := newRecord(d, o.Channel)
	rec.Status = o.Status()
	rec.Reason = o.Reason
	rec.Error = o.Err
	rec.Attempts = o.Attempts
	if err := p.records.Insert(ctx, rec); err != nil {
		p.log.Error("Failed to append notification record",
			"user_id", d.Profile.ID,
			"channel", o.Channel,
			"status", o.Kind,
			"run_key", d.RunKey,
			"error", err,
		)
	}
}
