// Package events implements the pipeline's event publisher:
// fan-out to bounded in-process subscriber queues, plus an optional
// external durable bus so a separate front-end process can observe the
// same events.
package events

import "time"

// Event types emitted by the pipeline core. Additional types
// may be added by callers without any schema change — Data is untyped.
const (
	TypeAgentRunStart    = "agent-run-start"
	TypeAgentRunComplete = "agent-run-complete"
	TypeLinkUpdate       = "link-update"
)

// Event is the shape published to subscribers and, when configured, the
// external bus: `{event_type, data}` where data is either a string (an
// HTML fragment) or a JSON-able object.
type Event struct {
	Type string `json:"event_type"`
	Data any    `json:"data"`
}

// AgentRunStartData is the payload for TypeAgentRunStart.
type AgentRunStartData struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	TriggerID string    `json:"trigger_id"`
	StartedAt time.Time `json:"started_at"`
}

// AgentRunCompleteData is the payload for TypeAgentRunComplete.
type AgentRunCompleteData struct {
	RunID       string         `json:"run_id"`
	Stage       string         `json:"stage"`
	TriggerID   string         `json:"trigger_id"`
	Status      string         `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// LinkUpdateData is the payload for TypeLinkUpdate: an HTML fragment meant
// for an out-of-band table-row swap in the front-end.
type LinkUpdateData struct {
	LinkID string `json:"link_id"`
	HTML   string `json:"html"`
}
