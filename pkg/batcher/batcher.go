package batcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/event"
)

// DefaultMaxBytes is the largest body the collector accepts by default
const DefaultMaxBytes = 100000

// Sender delivers one batch body
type Sender interface {
	Send(ctx context.Context, body []byte) bool
}

// Batcher accumulates serialized envelopes under a byte budget. It is not
// safe for concurrent use.
type Batcher struct {
	sender   Sender
	maxBytes int

	events [][]byte
	length int

	metric *metrics.Handler
	log    *logger.Handler
	now    func() time.Time
}

// New creates a batcher flushing to sender. maxBytes <= 0 selects
// DefaultMaxBytes.
func New(sender Sender, maxBytes int, m *metrics.Handler, log *logger.Handler) *Batcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Batcher{
		sender:   sender,
		maxBytes: maxBytes,
		metric:   m,
		log:      log,
		now:      time.Now,
	}
}

// Append serializes env and adds it to the batch. When the event would push
// the batch past the budget, the pending batch is flushed first and the
// event starts the next one: the byte counter restarts at the event's own
// serialized length rather than zero.
func (b *Batcher) Append(ctx context.Context, env event.Envelope) error {
	if env.Time == "" {
		env.Time = event.EpochTime(b.now())
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	if b.length+len(payload) > b.maxBytes {
		b.log.Debug().Int("pending", len(b.events)).Int("bytes", b.length).Msg("auto flushing")
		b.Flush(ctx)
		b.length = len(payload)
	} else {
		b.length += len(payload)
	}
	b.events = append(b.events, payload)
	return nil
}

// Flush hands the pending events to the sender as one space-joined body.
// The batch is cleared whatever the outcome. An empty batch reports true.
func (b *Batcher) Flush(ctx context.Context) bool {
	if len(b.events) == 0 {
		return true
	}
	body := bytes.Join(b.events, []byte(" "))
	ok := b.sender.Send(ctx, body)
	b.metric.ObserveFlush(len(body), ok)
	if !ok {
		b.log.Warn().Int("events", len(b.events)).Int("bytes", len(body)).Msg("Batch delivery failed, dropping batch")
	}
	b.events = nil
	b.length = 0
	return ok
}

// Pending returns the number of buffered events
func (b *Batcher) Pending() int { return len(b.events) }

// Bytes returns the running serialized length of the buffered events
func (b *Batcher) Bytes() int { return b.length }
