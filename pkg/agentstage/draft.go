package agentstage

import (
	"context"

	"github.com/ljtill/curate/pkg/stage"
)

// DraftRunner invokes the draft sub-stage agent with the save-or-retry
// guardrail: an agent pass that returns without calling save_draft gets a
// single corrective follow-up, and a second miss fails the stage.
type DraftRunner struct {
	Agent    Agent
	Executor *stage.Executor

	// Tools returns the stage tool dispatch table, rebuilt per run so the
	// call tracker observes only this run's calls.
	Tools func() map[string]ToolHandler
}

const draftCorrectiveNote = "\n\nYou returned without saving your work. " +
	"Call save_draft with the drafted edition content before finishing."

// Run executes the draft task once, replaying a corrective follow-up if
// the agent never called save_draft.
func (d *DraftRunner) Run(ctx context.Context, task string) stage.Result {
	tracker := NewCallTracker()
	call := AsCallable(d.Agent, tracker.Wrap(d.Tools()))

	guardrail := stage.Guardrail{
		Check: func(stage.Result) bool {
			return tracker.Called("save_draft")
		},
		Corrective: func(input map[string]any) map[string]any {
			prompt, _ := input["task"].(string)
			return map[string]any{"task": prompt + draftCorrectiveNote}
		},
	}
	return stage.RunWithGuardrail(ctx, d.Executor, call, map[string]any{"task": task}, guardrail)
}
