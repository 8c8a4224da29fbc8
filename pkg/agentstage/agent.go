// Package agentstage implements the external agent contract, the tool
// dispatch table the orchestrator and sub-stage agents call into, and the
// guardrailed draft runner that invokes the draft sub-stage agent through
// the stage executor.
package agentstage

import (
	"context"

	"github.com/ljtill/curate/pkg/stage"
)

// Result is what the external agent returns for a single task: final text
// plus whatever usage details the serving framework reports.
type Result struct {
	Text  string
	Usage map[string]any
}

// Agent is the black-box LLM collaborator. tools is the dispatch table the
// agent may call back into while reasoning about task; it is rebuilt (and,
// for the draft stage, instrumented) per invocation rather than held by
// the Agent implementation, so the same Agent value can serve every stage.
type Agent interface {
	Invoke(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error)
}

// AsCallable adapts an Agent bound to a fixed tool dispatch table into a
// stage.Callable, the shape the stage executor's retry/middleware chain
// operates on. input must carry a "task" string.
func AsCallable(agent Agent, tools map[string]ToolHandler) stage.Callable {
	return func(ctx context.Context, input map[string]any) (stage.Output, error) {
		task, _ := input["task"].(string)
		res, err := agent.Invoke(ctx, task, tools)
		if err != nil {
			return stage.Output{}, err
		}
		return stage.Output{Text: res.Text, Usage: res.Usage}, nil
	}
}
