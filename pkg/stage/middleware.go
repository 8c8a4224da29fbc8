package stage

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// LoggingMiddleware logs the outcome and token usage of every stage
// invocation, not just the orchestrator's.
func LoggingMiddleware(stageName string) Middleware {
	return func(next Callable) Callable {
		return func(ctx context.Context, input map[string]any) (Output, error) {
			out, err := next(ctx, input)
			if err != nil {
				slog.Warn("stage invocation failed", "stage", stageName, "error", err)
				return out, err
			}
			args := []any{"stage", stageName, "response_len", len(out.Text)}
			if out.Usage != nil {
				args = append(args, "usage", out.Usage)
			}
			slog.Info("stage invocation completed", args...)
			return out, nil
		}
	}
}

// RateLimitMiddleware throttles calls against a shared token bucket.
// weight is the number of bucket tokens each call reserves, so a caller
// can count a call as more than a single unit.
func RateLimitMiddleware(limiter *rate.Limiter, weight int) Middleware {
	return func(next Callable) Callable {
		return func(ctx context.Context, input map[string]any) (Output, error) {
			if limiter != nil {
				if err := limiter.WaitN(ctx, weight); err != nil {
					return Output{}, fmt.Errorf("stage: rate limit wait: %w", err)
				}
			}
			return next(ctx, input)
		}
	}
}
