// Package pipeline is the orchestration core: the Orchestrator maps
// incoming document changes to orchestrator agent runs, and the Processor
// drives the change-feed poll loop that feeds it. The package owns no
// stage semantics itself (the agent decides what stage comes next through
// its tools); it owns claiming, locking, run lifecycle, and event
// emission.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ljtill/curate/pkg/agentstage"
	"github.com/ljtill/curate/pkg/concurrency"
	"github.com/ljtill/curate/pkg/events"
	"github.com/ljtill/curate/pkg/models"
	"github.com/ljtill/curate/pkg/stage"
)

// LinkStore is the subset of the links repository the orchestrator needs.
type LinkStore interface {
	Get(ctx context.Context, id, partitionKey string) (*models.Link, error)
	Update(ctx context.Context, link *models.Link, partitionKey string) error
}

// RunLedger is the subset of the run ledger the orchestrator drives: run
// creation emits agent-run-start, finalization emits agent-run-complete.
type RunLedger interface {
	CreateOrchestratorRun(ctx context.Context, triggerID string, input map[string]any) (*models.AgentRun, error)
	CompleteWithOutput(ctx context.Context, run *models.AgentRun, status models.AgentRunStatus, output, usage map[string]any) error
	GetByTrigger(ctx context.Context, triggerID string) ([]*models.AgentRun, error)
}

// EventSink receives the events a handler emits (satisfied by
// *events.Publisher).
type EventSink interface {
	Publish(ctx context.Context, evt events.Event)
}

// Orchestrator receives link and feedback changes from the change-feed
// processor, claims the affected documents, runs the external orchestrator
// agent against them, and records the outcome.
type Orchestrator struct {
	links    LinkStore
	ledger   RunLedger
	executor *stage.Executor
	control  *concurrency.Controller
	sink     EventSink
	agent    agentstage.Agent
	toolset  *agentstage.Toolset
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(
	links LinkStore,
	ledger RunLedger,
	executor *stage.Executor,
	control *concurrency.Controller,
	sink EventSink,
	agent agentstage.Agent,
	toolset *agentstage.Toolset,
) *Orchestrator {
	return &Orchestrator{
		links:    links,
		ledger:   ledger,
		executor: executor,
		control:  control,
		sink:     sink,
		agent:    agent,
		toolset:  toolset,
	}
}

// failedOutput is the fixed failure payload a terminal orchestrator run
// carries.
const failedOutput = "Orchestrator failed"

// HandleLinkChange processes one raw link document from the change feed.
// A change that cannot be claimed (already processing, terminal status, or
// a stale replayed event) returns without side effects.
func (o *Orchestrator) HandleLinkChange(ctx context.Context, doc map[string]any) error {
	linkID := docString(doc, "id")
	if linkID == "" {
		return fmt.Errorf("pipeline: link change without id")
	}
	editionID := docString(doc, "edition_id")
	status := docString(doc, "status")
	partitionKey := linkPartitionKey(editionID)

	token, ok, err := o.control.Claims.Claim(ctx, o.links, linkID, partitionKey, status)
	if err != nil {
		return fmt.Errorf("pipeline: claim link %s: %w", linkID, err)
	}
	if !ok {
		slog.Debug("pipeline: link change not claimed", "link_id", linkID, "status", status)
		return nil
	}
	defer o.control.Claims.Release(token)

	run, err := o.ledger.CreateOrchestratorRun(ctx, linkID, map[string]any{
		"url":        docString(doc, "url"),
		"edition_id": editionID,
		"status":     status,
	})
	if err != nil {
		return fmt.Errorf("pipeline: create orchestrator run for link %s: %w", linkID, err)
	}

	task := buildLinkTask(linkID, docString(doc, "url"), editionID, status)
	result := o.invokeAgent(ctx, task)
	if err := o.finalizeRun(ctx, run, result); err != nil {
		return err
	}

	if err := o.failStalledLink(ctx, linkID, partitionKey); err != nil {
		return err
	}
	o.emitLinkUpdate(ctx, linkID, partitionKey)
	return nil
}

// HandleFeedbackChange processes one raw feedback document from the
// change feed. Edits to the same edition serialize through the edition
// mutex; resolved feedback is ignored.
func (o *Orchestrator) HandleFeedbackChange(ctx context.Context, doc map[string]any) error {
	feedbackID := docString(doc, "id")
	if feedbackID == "" {
		return fmt.Errorf("pipeline: feedback change without id")
	}
	if resolved, _ := doc["resolved"].(bool); resolved {
		return nil
	}
	editionID := docString(doc, "edition_id")
	if editionID == "" {
		return fmt.Errorf("pipeline: feedback %s without edition_id", feedbackID)
	}

	unlock := o.control.Editions.Lock(editionID)
	defer unlock()

	section := docString(doc, "section")
	comment := docString(doc, "comment")
	learn, _ := doc["learn_from_feedback"].(bool)

	run, err := o.ledger.CreateOrchestratorRun(ctx, feedbackID, map[string]any{
		"edition_id": editionID,
		"section":    section,
		"comment":    comment,
	})
	if err != nil {
		return fmt.Errorf("pipeline: create orchestrator run for feedback %s: %w", feedbackID, err)
	}

	// The feedback metadata rides on the call's own context: it is
	// visible only to this invocation's tool calls and vanishes on every
	// exit path without explicit reset.
	fc := agentstage.FeedbackContext{
		SkipMemoryCapture: !learn,
		Section:           section,
		Comment:           comment,
	}
	runCtx := agentstage.WithFeedbackContext(ctx, fc)

	result := o.invokeAgent(runCtx, buildEditTask(editionID, fc))
	return o.finalizeRun(ctx, run, result)
}

// HandlePublish processes a publish command for an edition. Publish is
// terminal, so it does not serialize against feedback edits.
func (o *Orchestrator) HandlePublish(ctx context.Context, editionID string) error {
	if editionID == "" {
		return fmt.Errorf("pipeline: publish without edition_id")
	}
	run, err := o.ledger.CreateOrchestratorRun(ctx, editionID, map[string]any{
		"edition_id": editionID,
	})
	if err != nil {
		return fmt.Errorf("pipeline: create orchestrator run for edition %s: %w", editionID, err)
	}
	result := o.invokeAgent(ctx, buildPublishTask(editionID))
	return o.finalizeRun(ctx, run, result)
}

func (o *Orchestrator) invokeAgent(ctx context.Context, task string) stage.Result {
	call := agentstage.AsCallable(o.agent, o.toolset.Dispatch())
	return o.executor.Invoke(ctx, call, map[string]any{"task": task})
}

func (o *Orchestrator) finalizeRun(ctx context.Context, run *models.AgentRun, result stage.Result) error {
	var status models.AgentRunStatus
	var output map[string]any
	if result.Success {
		status = models.AgentRunStatusCompleted
		output = map[string]any{"content": result.Text}
	} else {
		status = models.AgentRunStatusFailed
		output = map[string]any{"error": failedOutput}
		slog.Warn("pipeline: orchestrator run failed",
			"run_id", run.ID, "trigger_id", run.TriggerID, "error", result.Error)
	}
	orchestratorRunsTotal.WithLabelValues(string(status)).Inc()
	if err := o.ledger.CompleteWithOutput(ctx, run, status, output, result.Usage); err != nil {
		return fmt.Errorf("pipeline: finalize run %s: %w", run.ID, err)
	}
	return nil
}

// failStalledLink transitions a link still sitting in `submitted` after
// the orchestrator run — the agent never advanced it past fetch — directly
// to `failed` so the change feed does not keep re-offering it.
func (o *Orchestrator) failStalledLink(ctx context.Context, linkID, partitionKey string) error {
	link, err := o.links.Get(ctx, linkID, partitionKey)
	if err != nil {
		return fmt.Errorf("pipeline: reread link %s: %w", linkID, err)
	}
	if link == nil || link.Status != models.LinkStatusSubmitted {
		return nil
	}
	link.Status = models.LinkStatusFailed
	if err := o.links.Update(ctx, link, partitionKey); err != nil {
		return fmt.Errorf("pipeline: fail stalled link %s: %w", linkID, err)
	}
	return nil
}

// emitLinkUpdate publishes the link's refreshed table-row fragment. Render
// failures are logged and swallowed — the UI fragment is a best-effort
// affordance, not pipeline state.
func (o *Orchestrator) emitLinkUpdate(ctx context.Context, linkID, partitionKey string) {
	link, err := o.links.Get(ctx, linkID, partitionKey)
	if err != nil || link == nil {
		slog.Warn("pipeline: skipping link-update event", "link_id", linkID, "error", err)
		return
	}
	runs, err := o.ledger.GetByTrigger(ctx, linkID)
	if err != nil {
		slog.Warn("pipeline: loading run history for link-update failed", "link_id", linkID, "error", err)
	}
	html, err := renderLinkRow(link, runs)
	if err != nil {
		slog.Warn("pipeline: rendering link-update fragment failed", "link_id", linkID, "error", err)
		return
	}
	o.sink.Publish(ctx, events.Event{
		Type: events.TypeLinkUpdate,
		Data: events.LinkUpdateData{LinkID: link.ID, HTML: html},
	})
}

func buildLinkTask(linkID, url, editionID, status string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A submitted link needs to advance through the editorial pipeline.\n")
	fmt.Fprintf(&b, "Link ID: %s\nURL: %s\nCurrent status: %s\n", linkID, url, status)
	if editionID != "" {
		fmt.Fprintf(&b, "Edition: %s\n", editionID)
	}
	b.WriteString("Advance the link stage by stage (fetch, review, draft) using the available tools. " +
		"Record each stage with record_stage_start before it begins and record_stage_complete when it finishes.")
	return b.String()
}

func buildEditTask(editionID string, fc agentstage.FeedbackContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reviewer feedback was left on edition %s", editionID)
	if fc.Section != "" {
		fmt.Fprintf(&b, ", section %q", fc.Section)
	}
	b.WriteString(".\nApply the feedback with the edit tools, save the result with save_edit, and resolve the feedback.")
	if !fc.SkipMemoryCapture {
		fmt.Fprintf(&b, "\nFeedback: %s", fc.Comment)
	}
	return b.String()
}

func buildPublishTask(editionID string) string {
	return fmt.Sprintf("Publish edition %s: render it with render_and_upload, then mark it published with mark_published.", editionID)
}

func docString(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return v
}

// linkPartitionKey mirrors models.Link.PartitionKey for raw change-feed
// documents that have not been unmarshaled into a Link.
func linkPartitionKey(editionID string) string {
	l := models.Link{EditionID: editionID}
	return l.PartitionKey()
}
