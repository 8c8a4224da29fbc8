package agentstage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljtill/curate/pkg/stage"
)

type agentFunc func(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error)

func (f agentFunc) Invoke(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error) {
	return f(ctx, task, tools)
}

func draftTools(saved *int) func() map[string]ToolHandler {
	return func() map[string]ToolHandler {
		return map[string]ToolHandler{
			"save_draft": func(ctx context.Context, raw json.RawMessage) (string, error) {
				*saved++
				return `{"status":"drafted"}`, nil
			},
		}
	}
}

func newDraftExecutor() *stage.Executor {
	return stage.NewExecutor(stage.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func TestDraftRunnerPassesWhenDraftSaved(t *testing.T) {
	var saved int
	runner := &DraftRunner{
		Agent: agentFunc(func(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error) {
			out, err := tools["save_draft"](ctx, json.RawMessage(`{}`))
			require.NoError(t, err)
			require.Contains(t, out, "drafted")
			return Result{Text: "draft saved"}, nil
		}),
		Executor: newDraftExecutor(),
		Tools:    draftTools(&saved),
	}

	result := runner.Run(context.Background(), "draft the edition")
	assert.True(t, result.Success)
	assert.Equal(t, 1, saved)
}

func TestDraftRunnerSendsOneCorrectiveFollowUp(t *testing.T) {
	var saved int
	attempts := 0
	runner := &DraftRunner{
		Agent: agentFunc(func(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error) {
			attempts++
			if attempts == 1 {
				// First pass forgets to save.
				return Result{Text: "here is my draft inline"}, nil
			}
			require.Contains(t, task, "save_draft")
			_, err := tools["save_draft"](ctx, json.RawMessage(`{}`))
			require.NoError(t, err)
			return Result{Text: "saved this time"}, nil
		}),
		Executor: newDraftExecutor(),
		Tools:    draftTools(&saved),
	}

	result := runner.Run(context.Background(), "draft the edition")
	assert.True(t, result.Success)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, saved)
}

func TestDraftRunnerFailsAfterSecondMiss(t *testing.T) {
	var saved int
	attempts := 0
	runner := &DraftRunner{
		Agent: agentFunc(func(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error) {
			attempts++
			return Result{Text: "still not saving"}, nil
		}),
		Executor: newDraftExecutor(),
		Tools:    draftTools(&saved),
	}

	result := runner.Run(context.Background(), "draft the edition")
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 2, attempts)
	assert.Zero(t, saved)
}

func TestDraftRunnerPropagatesAgentFailure(t *testing.T) {
	var saved int
	runner := &DraftRunner{
		Agent: agentFunc(func(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error) {
			return Result{}, fmt.Errorf("model unavailable")
		}),
		Executor: newDraftExecutor(),
		Tools:    draftTools(&saved),
	}

	result := runner.Run(context.Background(), "draft the edition")
	assert.False(t, result.Success)
	assert.True(t, strings.Contains(result.Error, "model unavailable"))
}
