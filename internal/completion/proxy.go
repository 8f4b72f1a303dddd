package completion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/metrics"
)

const DefaultTimeout = 5 * time.Second

// Proxy answers autocomplete requests from an Engine. It never fails:
// every engine error becomes a null suggestion.
type Proxy struct {
	engine  Engine
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewProxy(engine Engine, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Proxy {
	if engine == nil {
		engine = HeuristicEngine{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{engine: engine, timeout: timeout, log: logger, metrics: m}
}

func (p *Proxy) Suggest(ctx context.Context, req Request) Response {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	suggestion, err := p.engine.Complete(ctx, req)

	outcome := "ok"
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
		outcome = "timeout"
		suggestion = nil
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		// caller went away
		outcome = "canceled"
		suggestion = nil
	case err != nil:
		outcome = "error"
		suggestion = nil
	case suggestion == nil:
		outcome = "empty"
	}
	if err != nil {
		p.log.Warn("completion.failed", "outcome", outcome, "language", req.Language, "err", err)
	}

	p.metrics.CompletionObserved(outcome, time.Since(start))
	return Response{Suggestion: suggestion}
}
