package models

import "time"

// AgentStage identifies which pipeline stage (or the orchestrator itself)
// an AgentRun belongs to.
type AgentStage string

const (
	AgentStageOrchestrator AgentStage = "orchestrator"
	AgentStageFetch        AgentStage = "fetch"
	AgentStageReview       AgentStage = "review"
	AgentStageDraft        AgentStage = "draft"
	AgentStageEdit         AgentStage = "edit"
	AgentStagePublish      AgentStage = "publish"
)

// AgentRunStatus is the lifecycle state of a single agent invocation.
type AgentRunStatus string

const (
	AgentRunStatusRunning   AgentRunStatus = "running"
	AgentRunStatusCompleted AgentRunStatus = "completed"
	AgentRunStatusFailed    AgentRunStatus = "failed"
)

// TokenUsage is the normalized usage schema the ledger stores, regardless of
// the key names an individual agent framework reports.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// AgentRun is a ledger record for a single stage or orchestrator
// invocation, partitioned by TriggerID (the link or feedback ID that
// caused the run).
type AgentRun struct {
	DocumentBase
	Stage       AgentStage     `json:"stage"`
	TriggerID   string         `json:"trigger_id"`
	Status      AgentRunStatus `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Usage       *TokenUsage    `json:"usage,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// PartitionKey returns the triggering document's ID.
func (r *AgentRun) PartitionKey() string {
	return r.TriggerID
}

// NormalizeUsage converts a framework-reported usage map (using
// input_token_count/output_token_count/total_token_count keys) into the
// ledger's stored TokenUsage schema, computing total when the framework
// omits it.
func NormalizeUsage(raw map[string]any) *TokenUsage {
	if raw == nil {
		return nil
	}
	input := intField(raw, "input_token_count")
	output := intField(raw, "output_token_count")
	total := intField(raw, "total_token_count")
	if total == 0 {
		total = input + output
	}
	return &TokenUsage{InputTokens: input, OutputTokens: output, TotalTokens: total}
}

func intField(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
