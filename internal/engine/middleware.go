package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/pkg/metrics"
)

// Middleware wraps a node invocation. The engine runs every invocation
// through its configured chain, innermost last.
type Middleware func(def *nodes.Definition, next nodes.ExecuteFunc) nodes.ExecuteFunc

// chain composes middlewares so the first listed runs outermost.
func chain(middlewares []Middleware, def *nodes.Definition, final nodes.ExecuteFunc) nodes.ExecuteFunc {
	wrapped := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](def, wrapped)
	}
	return wrapped
}

// RecoveryMiddleware converts a panicking node into a NodeExecutionError
// instead of taking down the worker.
func RecoveryMiddleware() Middleware {
	return func(_ *nodes.Definition, next nodes.ExecuteFunc) nodes.ExecuteFunc {
		return func(ctx context.Context, ec *nodes.ExecutionContext) (out map[string][]nodes.Item, err error) {
			defer func() {
				if r := recover(); r != nil {
					ec.Logger.Error().
						Interface("panic", r).
						Str("stack", string(debug.Stack())).
						Msg("node panicked")
					err = Errf(KindNodeExecutionError, ec.NodeID, "node panicked: %v", r)
				}
			}()
			return next(ctx, ec)
		}
	}
}

// LoggingMiddleware logs invocation boundaries with duration.
func LoggingMiddleware(log zerolog.Logger) Middleware {
	return func(def *nodes.Definition, next nodes.ExecuteFunc) nodes.ExecuteFunc {
		return func(ctx context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
			start := time.Now()
			l := log.With().
				Str("execution_id", ec.ExecutionID.String()).
				Str("node_id", ec.NodeID).
				Str("node_type", def.Identifier).
				Logger()
			l.Debug().Msg("node started")

			out, err := next(ctx, ec)

			ev := l.Info()
			if err != nil {
				ev = l.Warn().Err(err)
			}
			ev.Dur("duration", time.Since(start)).Msg("node finished")
			return out, err
		}
	}
}

// MetricsMiddleware records per-node-type outcome counters and durations.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(def *nodes.Definition, next nodes.ExecuteFunc) nodes.ExecuteFunc {
		return func(ctx context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
			start := time.Now()
			out, err := next(ctx, ec)
			collector.RecordNodeExecution(def.Identifier, time.Since(start), err)
			return out, err
		}
	}
}

// RateLimitConfig bounds invocation rates per node type, with a global
// fallback. Zero-valued limits disable that tier.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int

	NodeTypeRPS   map[string]float64
	NodeTypeBurst map[string]int

	MaxWait time.Duration
}

// RateLimitMiddleware throttles node invocations. Waiting respects the
// invocation context, so cancellation interrupts a throttled node.
func RateLimitMiddleware(cfg RateLimitConfig) Middleware {
	var global *rate.Limiter
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst < 1 {
			burst = 1
		}
		global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	var perType sync.Map

	limiterFor := func(nodeType string) *rate.Limiter {
		rps, ok := cfg.NodeTypeRPS[nodeType]
		if !ok || rps <= 0 {
			return nil
		}
		if l, ok := perType.Load(nodeType); ok {
			return l.(*rate.Limiter)
		}
		burst := cfg.NodeTypeBurst[nodeType]
		if burst < 1 {
			burst = 1
		}
		l, _ := perType.LoadOrStore(nodeType, rate.NewLimiter(rate.Limit(rps), burst))
		return l.(*rate.Limiter)
	}

	wait := func(ctx context.Context, l *rate.Limiter) error {
		if l == nil {
			return nil
		}
		if cfg.MaxWait > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.MaxWait)
			defer cancel()
		}
		return l.Wait(ctx)
	}

	return func(def *nodes.Definition, next nodes.ExecuteFunc) nodes.ExecuteFunc {
		return func(ctx context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
			if err := wait(ctx, limiterFor(def.Identifier)); err != nil {
				return nil, fmt.Errorf("rate limit for %s: %w", def.Identifier, err)
			}
			if err := wait(ctx, global); err != nil {
				return nil, fmt.Errorf("global rate limit: %w", err)
			}
			return next(ctx, ec)
		}
	}
}
