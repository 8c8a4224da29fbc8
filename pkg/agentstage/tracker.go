package agentstage

import (
	"context"
	"encoding/json"
	"sync"
)

// CallTracker records which tool names were invoked during a single agent
// run. The draft stage's save-or-retry guardrail needs to know whether
// save_draft was called; since tool calls happen
// inside the black-box agent's own reasoning loop, the only observation
// point available to this module is wrapping the dispatch table it hands
// the agent.
type CallTracker struct {
	mu     sync.Mutex
	called map[string]bool
}

// NewCallTracker constructs an empty tracker.
func NewCallTracker() *CallTracker {
	return &CallTracker{called: make(map[string]bool)}
}

// Wrap returns a copy of tools where every handler records its name as
// called before delegating to the original.
func (c *CallTracker) Wrap(tools map[string]ToolHandler) map[string]ToolHandler {
	wrapped := make(map[string]ToolHandler, len(tools))
	for name, handler := range tools {
		name, handler := name, handler
		wrapped[name] = func(ctx context.Context, args json.RawMessage) (string, error) {
			c.mark(name)
			return handler(ctx, args)
		}
	}
	return wrapped
}

func (c *CallTracker) mark(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.called[name] = true
}

// Called reports whether name was invoked since the tracker was created.
func (c *CallTracker) Called(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.called[name]
}
