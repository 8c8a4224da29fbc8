package concurrency

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultHandlerLimit bounds the number of change-feed handler tasks that
// may run concurrently when no override is configured.
const DefaultHandlerLimit = 25

// HandlerSemaphore bounds the number of in-flight change-feed handler
// tasks, built on x/sync/semaphore the way the rest of the domain stack's
// concurrency primitives lean on the x/sync and x/time packages rather
// than hand-rolled channels.
type HandlerSemaphore struct {
	weighted *semaphore.Weighted
}

// NewHandlerSemaphore constructs a HandlerSemaphore admitting at most
// limit concurrent handlers. A non-positive limit falls back to
// DefaultHandlerLimit.
func NewHandlerSemaphore(limit int) *HandlerSemaphore {
	if limit <= 0 {
		limit = DefaultHandlerLimit
	}
	return &HandlerSemaphore{weighted: semaphore.NewWeighted(int64(limit))}
}

// Acquire blocks until a handler slot is free or ctx is done.
func (h *HandlerSemaphore) Acquire(ctx context.Context) error {
	return h.weighted.Acquire(ctx, 1)
}

// Release frees the handler slot acquired by a prior successful Acquire.
func (h *HandlerSemaphore) Release() {
	h.weighted.Release(1)
}

// TryAcquire attempts to acquire a handler slot without blocking.
func (h *HandlerSemaphore) TryAcquire() bool {
	return h.weighted.TryAcquire(1)
}
