// Package stage implements the stage executor: a pure wrapper
// around one fallible external-agent invocation, adding retry/back-off,
// cancellation-awareness, and structured result capture. It has no
// knowledge of stage semantics (fetch vs. review vs. draft) — those live
// in pkg/agentstage and pkg/pipeline.
package stage

import (
	"context"
	"time"
)

// Output is what an external agent callable returns on success.
type Output struct {
	Text  string
	Usage map[string]any
}

// Callable is the external agent collaborator's invocation signature:
// an async call that either succeeds with Output or fails.
type Callable func(ctx context.Context, input map[string]any) (Output, error)

// Result is the executor's outward-facing outcome: exactly one of Text or
// Error is meaningful.
type Result struct {
	Text    string
	Usage   map[string]any
	Error   string
	Success bool
}

// Config tunes the retry/back-off policy.
type Config struct {
	MaxRetries int           // additional attempts after the first; default 2 (3 total)
	BaseDelay  time.Duration // default delay before the first retry
	MaxDelay   time.Duration // back-off ceiling
}

// DefaultConfig is two retries (three attempts) with a capped
// exponential back-off.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Middleware wraps a Callable, e.g. to log or rate-limit every invocation.
type Middleware func(Callable) Callable

// Executor invokes a Callable with retry/back-off, composed through an
// ordered middleware chain.
type Executor struct {
	cfg        Config
	middleware []Middleware
}

// NewExecutor constructs an Executor. A zero Config gets DefaultConfig.
func NewExecutor(cfg Config, middleware ...Middleware) *Executor {
	if cfg.MaxRetries == 0 && cfg.BaseDelay == 0 {
		cfg = DefaultConfig()
	}
	return &Executor{cfg: cfg, middleware: middleware}
}

// Invoke runs call (decorated by the middleware chain) with retry and
// exponential back-off. Cancellation aborts the retry loop immediately and
// is never retried.
func (e *Executor) Invoke(ctx context.Context, call Callable, input map[string]any) Result {
	wrapped := call
	for i := len(e.middleware) - 1; i >= 0; i-- {
		wrapped = e.middleware[i](wrapped)
	}

	var out Output
	err := Retry(ctx, e.cfg.MaxRetries+1, e.cfg.BaseDelay, e.cfg.MaxDelay, func() error {
		var callErr error
		out, callErr = wrapped(ctx, input)
		return callErr
	})
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Text: out.Text, Usage: out.Usage, Success: true}
}
