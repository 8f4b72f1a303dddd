package broadcast

import (
	"log/slog"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/metrics"
)

// Recipient is anything that can take an outbound frame without blocking.
// Enqueue reports false when the frame could not be queued (queue full or
// connection already gone).
type Recipient interface {
	Enqueue(msg []byte) bool
}

// Multiplexer fans one message out to a room's recipients
type Multiplexer struct {
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(logger *slog.Logger, m *metrics.Metrics) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{log: logger, metrics: m}
}

// Deliver queues msg on every recipient except `except` (which may be nil).
// A failure on one recipient never stops delivery to the rest; failed
// recipients are returned in the order they were attempted.
func (m *Multiplexer) Deliver(msgType string, msg []byte, recipients []Recipient, except Recipient) []Recipient {
	var failed []Recipient
	for _, r := range recipients {
		if except != nil && r == except {
			continue
		}
		ok := r.Enqueue(msg)
		m.metrics.Delivered(msgType, ok)
		if !ok {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		m.log.Debug("broadcast.partial", "type", msgType, "failed", len(failed), "recipients", len(recipients))
	}
	return failed
}
