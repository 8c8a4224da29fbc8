package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljtill/curate/pkg/agentstage"
	"github.com/ljtill/curate/pkg/concurrency"
	"github.com/ljtill/curate/pkg/events"
	"github.com/ljtill/curate/pkg/models"
	"github.com/ljtill/curate/pkg/stage"
)

type fakeLinkStore struct {
	mu    sync.Mutex
	links map[string]*models.Link
}

func newFakeLinkStore(links ...*models.Link) *fakeLinkStore {
	s := &fakeLinkStore{links: make(map[string]*models.Link)}
	for _, l := range links {
		s.links[l.ID] = l
	}
	return s
}

func (s *fakeLinkStore) Get(ctx context.Context, id, partitionKey string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[id], nil
}

func (s *fakeLinkStore) Update(ctx context.Context, link *models.Link, partitionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ID] = link
	return nil
}

func (s *fakeLinkStore) setStatus(id string, status models.LinkStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[id].Status = status
}

func (s *fakeLinkStore) status(id string) models.LinkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[id].Status
}

// fakeLedger mirrors the real ledger's event emission so handler event
// ordering can be asserted end to end.
type fakeLedger struct {
	mu   sync.Mutex
	sink EventSink
	runs []*models.AgentRun
}

func (l *fakeLedger) CreateOrchestratorRun(ctx context.Context, triggerID string, input map[string]any) (*models.AgentRun, error) {
	l.mu.Lock()
	run := &models.AgentRun{
		Stage:     models.AgentStageOrchestrator,
		TriggerID: triggerID,
		Status:    models.AgentRunStatusRunning,
		Input:     input,
		StartedAt: time.Now(),
	}
	run.ID = fmt.Sprintf("run-%d", len(l.runs)+1)
	l.runs = append(l.runs, run)
	l.mu.Unlock()

	l.sink.Publish(ctx, events.Event{Type: events.TypeAgentRunStart, Data: events.AgentRunStartData{
		RunID: run.ID, Stage: string(run.Stage), TriggerID: run.TriggerID, StartedAt: run.StartedAt,
	}})
	return run, nil
}

func (l *fakeLedger) CompleteWithOutput(ctx context.Context, run *models.AgentRun, status models.AgentRunStatus, output, usage map[string]any) error {
	now := time.Now()
	l.mu.Lock()
	run.Status = status
	run.Output = output
	run.CompletedAt = &now
	if usage != nil {
		run.Usage = models.NormalizeUsage(usage)
	}
	l.mu.Unlock()

	l.sink.Publish(ctx, events.Event{Type: events.TypeAgentRunComplete, Data: events.AgentRunCompleteData{
		RunID: run.ID, Stage: string(run.Stage), TriggerID: run.TriggerID,
		Status: string(status), Output: output, CompletedAt: now,
	}})
	return nil
}

func (l *fakeLedger) GetByTrigger(ctx context.Context, triggerID string) ([]*models.AgentRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.AgentRun
	for _, r := range l.runs {
		if r.TriggerID == triggerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *fakeLedger) runCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(ctx context.Context, evt events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type agentFunc func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error)

func (f agentFunc) Invoke(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
	return f(ctx, task, tools)
}

func newTestOrchestrator(links *fakeLinkStore, agent agentstage.Agent) (*Orchestrator, *fakeLedger, *recordingSink) {
	sink := &recordingSink{}
	led := &fakeLedger{sink: sink}
	executor := stage.NewExecutor(stage.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	orch := NewOrchestrator(links, led, executor, concurrency.NewController(4), sink, agent, &agentstage.Toolset{})
	return orch, led, sink
}

func TestHandleLinkChangeFreshSubmission(t *testing.T) {
	links := newFakeLinkStore(&models.Link{
		DocumentBase: models.DocumentBase{ID: "link-1"},
		URL:          "https://example.com/post",
		Status:       models.LinkStatusSubmitted,
	})

	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		links.setStatus("link-1", models.LinkStatusDrafted)
		return agentstage.Result{
			Text:  "advanced through draft",
			Usage: map[string]any{"input_token_count": 100, "output_token_count": 40},
		}, nil
	})
	orch, led, sink := newTestOrchestrator(links, agent)

	err := orch.HandleLinkChange(context.Background(), map[string]any{
		"id": "link-1", "url": "https://example.com/post", "status": "submitted",
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		events.TypeAgentRunStart,
		events.TypeAgentRunComplete,
		events.TypeLinkUpdate,
	}, sink.types())

	run := led.runs[0]
	assert.Equal(t, models.AgentRunStatusCompleted, run.Status)
	assert.Equal(t, "advanced through draft", run.Output["content"])
	assert.Equal(t, 140, run.Usage.TotalTokens)

	update := sink.events[2].Data.(events.LinkUpdateData)
	assert.Equal(t, "link-1", update.LinkID)
	assert.Contains(t, update.HTML, "link-1")
	assert.Contains(t, update.HTML, "drafted")
}

func TestHandleLinkChangeIgnoresReplayedEvent(t *testing.T) {
	links := newFakeLinkStore(&models.Link{
		DocumentBase: models.DocumentBase{ID: "link-1"},
		Status:       models.LinkStatusDrafted,
	})
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		t.Fatal("agent must not run for a replayed event")
		return agentstage.Result{}, nil
	})
	orch, led, sink := newTestOrchestrator(links, agent)

	err := orch.HandleLinkChange(context.Background(), map[string]any{
		"id": "link-1", "status": "submitted",
	})
	require.NoError(t, err)
	assert.Zero(t, led.runCount())
	assert.Empty(t, sink.types())
}

func TestHandleLinkChangeOrchestratorFailure(t *testing.T) {
	links := newFakeLinkStore(&models.Link{
		DocumentBase: models.DocumentBase{ID: "link-1"},
		Status:       models.LinkStatusSubmitted,
	})
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		return agentstage.Result{}, fmt.Errorf("model overloaded")
	})
	orch, led, sink := newTestOrchestrator(links, agent)

	err := orch.HandleLinkChange(context.Background(), map[string]any{
		"id": "link-1", "status": "submitted",
	})
	require.NoError(t, err)

	run := led.runs[0]
	assert.Equal(t, models.AgentRunStatusFailed, run.Status)
	assert.Equal(t, "Orchestrator failed", run.Output["error"])

	// The agent never advanced the link past submitted, so the post-run
	// fix-up transitions it to failed directly.
	assert.Equal(t, models.LinkStatusFailed, links.status("link-1"))

	update := sink.events[len(sink.events)-1]
	require.Equal(t, events.TypeLinkUpdate, update.Type)
	assert.Contains(t, update.Data.(events.LinkUpdateData).HTML, "Retry")
}

func TestHandleLinkChangeReleasesClaimOnCompletion(t *testing.T) {
	links := newFakeLinkStore(&models.Link{
		DocumentBase: models.DocumentBase{ID: "link-1"},
		Status:       models.LinkStatusSubmitted,
	})
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		links.setStatus("link-1", models.LinkStatusDrafted)
		return agentstage.Result{Text: "done"}, nil
	})
	orch, _, _ := newTestOrchestrator(links, agent)

	require.NoError(t, orch.HandleLinkChange(context.Background(), map[string]any{
		"id": "link-1", "status": "submitted",
	}))
	assert.False(t, orch.control.Claims.Contains("link-1"))
}

func TestHandleFeedbackChangeSkipsResolved(t *testing.T) {
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		t.Fatal("agent must not run for resolved feedback")
		return agentstage.Result{}, nil
	})
	orch, led, _ := newTestOrchestrator(newFakeLinkStore(), agent)

	err := orch.HandleFeedbackChange(context.Background(), map[string]any{
		"id": "fb-1", "edition_id": "ed-1", "resolved": true,
	})
	require.NoError(t, err)
	assert.Zero(t, led.runCount())
}

func TestHandleFeedbackChangeLearnOffOmitsCommentAndSkipsCapture(t *testing.T) {
	var gotTask string
	var gotContext agentstage.FeedbackContext
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		gotTask = task
		gotContext, _ = agentstage.FeedbackFromContext(ctx)
		return agentstage.Result{Text: "edited"}, nil
	})
	orch, _, _ := newTestOrchestrator(newFakeLinkStore(), agent)

	err := orch.HandleFeedbackChange(context.Background(), map[string]any{
		"id":                  "fb-1",
		"edition_id":          "ed-1",
		"section":             "intro",
		"comment":             "soften the opening paragraph",
		"learn_from_feedback": false,
	})
	require.NoError(t, err)

	assert.True(t, gotContext.SkipMemoryCapture)
	assert.Equal(t, "soften the opening paragraph", gotContext.Comment)
	assert.NotContains(t, gotTask, "soften the opening paragraph")
}

func TestHandleFeedbackChangeLearnOnIncludesComment(t *testing.T) {
	var gotTask string
	var gotContext agentstage.FeedbackContext
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		gotTask = task
		gotContext, _ = agentstage.FeedbackFromContext(ctx)
		return agentstage.Result{Text: "edited"}, nil
	})
	orch, _, _ := newTestOrchestrator(newFakeLinkStore(), agent)

	err := orch.HandleFeedbackChange(context.Background(), map[string]any{
		"id":                  "fb-1",
		"edition_id":          "ed-1",
		"section":             "intro",
		"comment":             "soften the opening paragraph",
		"learn_from_feedback": true,
	})
	require.NoError(t, err)

	assert.False(t, gotContext.SkipMemoryCapture)
	assert.Contains(t, gotTask, "soften the opening paragraph")
}

func TestFeedbackEditsOnSameEditionSerialize(t *testing.T) {
	var mu sync.Mutex
	var markers []string
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		fc, _ := agentstage.FeedbackFromContext(ctx)
		mu.Lock()
		markers = append(markers, "enter:"+fc.Section)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		markers = append(markers, "exit:"+fc.Section)
		mu.Unlock()
		return agentstage.Result{Text: "edited"}, nil
	})
	orch, _, _ := newTestOrchestrator(newFakeLinkStore(), agent)

	var wg sync.WaitGroup
	for _, section := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(section string) {
			defer wg.Done()
			assert.NoError(t, orch.HandleFeedbackChange(context.Background(), map[string]any{
				"id": "fb-" + section, "edition_id": "ed-1", "section": section, "comment": "x",
			}))
		}(section)
	}
	wg.Wait()

	// Serialized execution means every enter is immediately followed by
	// its own exit, with no interleaving.
	require.Len(t, markers, 6)
	for i := 0; i < len(markers); i += 2 {
		enter := strings.TrimPrefix(markers[i], "enter:")
		assert.Equal(t, "exit:"+enter, markers[i+1])
	}
}

func TestHandlePublishFinalizesRun(t *testing.T) {
	agent := agentFunc(func(ctx context.Context, task string, tools map[string]agentstage.ToolHandler) (agentstage.Result, error) {
		assert.Contains(t, task, "ed-1")
		return agentstage.Result{Text: "published"}, nil
	})
	orch, led, _ := newTestOrchestrator(newFakeLinkStore(), agent)

	require.NoError(t, orch.HandlePublish(context.Background(), "ed-1"))
	require.Equal(t, 1, led.runCount())
	assert.Equal(t, models.AgentRunStatusCompleted, led.runs[0].Status)
	assert.Equal(t, "ed-1", led.runs[0].TriggerID)
}
