package stage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	call := func(ctx context.Context, input map[string]any) (Output, error) {
		attempts++
		if attempts < 3 {
			return Output{}, fmt.Errorf("transient")
		}
		return Output{Text: "ok"}, nil
	}

	e := NewExecutor(Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	result := e.Invoke(context.Background(), call, nil)

	require.True(t, result.Success)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, 3, attempts)
}

func TestExecutorFailsAfterExhaustingRetries(t *testing.T) {
	attempts := 0
	call := func(ctx context.Context, input map[string]any) (Output, error) {
		attempts++
		return Output{}, fmt.Errorf("permanent")
	}

	e := NewExecutor(Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	result := e.Invoke(context.Background(), call, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "permanent")
	assert.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestExecutorAbortsRetriesOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	call := func(ctx context.Context, input map[string]any) (Output, error) {
		attempts++
		cancel()
		return Output{}, fmt.Errorf("transient")
	}

	e := NewExecutor(Config{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	result := e.Invoke(ctx, call, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 1, attempts)
}

func TestExecutorAppliesMiddlewareChainInOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Callable) Callable {
			return func(ctx context.Context, input map[string]any) (Output, error) {
				order = append(order, name)
				return next(ctx, input)
			}
		}
	}

	e := NewExecutor(DefaultConfig(), mw("first"), mw("second"))
	_ = e.Invoke(context.Background(), func(ctx context.Context, input map[string]any) (Output, error) {
		order = append(order, "call")
		return Output{Text: "x"}, nil
	}, nil)

	assert.Equal(t, []string{"first", "second", "call"}, order)
}

func TestRunWithGuardrailRetriesOnceThenFails(t *testing.T) {
	calls := 0
	call := func(ctx context.Context, input map[string]any) (Output, error) {
		calls++
		return Output{Text: "missing save_draft"}, nil
	}
	e := NewExecutor(DefaultConfig())

	result := RunWithGuardrail(context.Background(), e, call, map[string]any{}, Guardrail{
		Check: func(Result) bool { return false },
		Corrective: func(input map[string]any) map[string]any {
			input["corrective"] = true
			return input
		},
	})

	assert.False(t, result.Success)
	assert.Equal(t, 2, calls)
}

func TestRunWithGuardrailPassesWhenCheckSucceeds(t *testing.T) {
	call := func(ctx context.Context, input map[string]any) (Output, error) {
		return Output{Text: "saved"}, nil
	}
	e := NewExecutor(DefaultConfig())

	result := RunWithGuardrail(context.Background(), e, call, map[string]any{}, Guardrail{
		Check: func(Result) bool { return true },
	})

	assert.True(t, result.Success)
}
