package stage

import "context"

// Guardrail enforces a required side effect on a stage invocation, e.g.
// that the draft stage called save_draft before returning. Check inspects
// the executor Result and reports whether the required action happened;
// Corrective builds a follow-up input describing what the agent missed.
type Guardrail struct {
	Check      func(Result) bool
	Corrective func(input map[string]any) map[string]any
}

// RunWithGuardrail invokes call once through executor and, if the
// guardrail's Check fails, replays a single corrective follow-up message
// before giving up. A second miss fails the stage.
func RunWithGuardrail(ctx context.Context, executor *Executor, call Callable, input map[string]any, g Guardrail) Result {
	result := executor.Invoke(ctx, call, input)
	if !result.Success || g.Check(result) {
		return result
	}

	corrective := g.Corrective(input)
	retry := executor.Invoke(ctx, call, corrective)
	if !retry.Success || !g.Check(retry) {
		if retry.Error == "" {
			retry.Error = "agent did not complete the required action after a corrective follow-up"
			retry.Success = false
		}
		return retry
	}
	return retry
}
