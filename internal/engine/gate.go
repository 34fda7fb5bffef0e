package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/heimdex/heimdex-matting/internal/observability"
)

// Gated wraps a shared Engine so at most one invocation runs at a time. The
// gate is held only for the duration of Invoke.
type Gated struct {
	engine   Engine
	sem      *semaphore.Weighted
	inFlight atomic.Int32
	waiting  atomic.Int32
	logger   *slog.Logger
}

func NewGated(e Engine, logger *slog.Logger) *Gated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gated{
		engine: e,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
}

// Invoke waits for exclusive access to the engine, then runs it. Waiting
// honours ctx; the invocation itself does not. Every engine failure comes
// back as *Error. A ctx error is returned unwrapped when the caller gave up
// before its turn.
func (g *Gated) Invoke(ctx context.Context, p Params) error {
	start := time.Now()
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	defer g.sem.Release(1)

	wait := time.Since(start)
	observability.EngineGateWait.Observe(wait.Seconds())
	if wait > time.Second {
		g.logger.Info("acquired engine after waiting", "wait_ms", wait.Milliseconds())
	}

	g.inFlight.Add(1)
	observability.EngineInFlight.Inc()
	defer func() {
		g.inFlight.Add(-1)
		observability.EngineInFlight.Dec()
	}()

	if err := g.engine.Invoke(ctx, p); err != nil {
		var engErr *Error
		if errors.As(err, &engErr) {
			return engErr
		}
		return &Error{Cause: err}
	}
	return nil
}

// InFlight reports how many invocations are running (0 or 1).
func (g *Gated) InFlight() int {
	return int(g.inFlight.Load())
}

// Waiting reports how many callers are queued for the gate.
func (g *Gated) Waiting() int {
	return int(g.waiting.Load())
}
