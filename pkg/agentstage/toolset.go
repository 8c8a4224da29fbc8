package agentstage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ljtill/curate/pkg/ledger"
	"github.com/ljtill/curate/pkg/memory"
	"github.com/ljtill/curate/pkg/models"
	"github.com/ljtill/curate/pkg/objectstore"
	"github.com/ljtill/curate/pkg/store"
)

// ToolHandler is one entry in the dispatch table the orchestrator (and, for
// draft, the draft sub-stage) agent calls into. A validation failure in
// rawArgs is reported as a structured `{"error": "..."}` JSON string with a
// nil error so the agent can see it and retry; a non-nil error
// signals an infrastructure failure the stage executor should retry the
// whole invocation for.
type ToolHandler func(ctx context.Context, rawArgs json.RawMessage) (string, error)

// Toolset holds every collaborator the tool dispatch table needs: the run
// ledger, the document repositories for each container, the memory store,
// and the object store used by publish.
type Toolset struct {
	Ledger    *ledger.Ledger
	Links     *store.Repository[*models.Link]
	Editions  *store.Repository[*models.Edition]
	Feedbacks *store.Repository[*models.Feedback]
	Revisions *store.Repository[*models.Revision]
	Memory    memory.Store
	Uploader  objectstore.Uploader
	Renderer  *objectstore.EditionRenderer

	// Draft, when set, exposes run_draft_stage so the orchestrator agent
	// delegates drafting to the guardrailed sub-stage runner instead of
	// drafting inline.
	Draft *DraftRunner
}

// Dispatch builds the tool dispatch table handed to the agent for one
// invocation.
func (t *Toolset) Dispatch() map[string]ToolHandler {
	tools := t.StageTools()
	if t.Draft != nil {
		tools["run_draft_stage"] = t.runDraftStage
	}
	return tools
}

// StageTools is the dispatch table without run_draft_stage — what the
// draft sub-stage agent itself receives, so it cannot recurse into its own
// runner.
func (t *Toolset) StageTools() map[string]ToolHandler {
	return map[string]ToolHandler{
		"record_stage_start":    t.recordStageStart,
		"record_stage_complete": t.recordStageComplete,
		"get_link":              t.getLink,
		"get_edition":           t.getEdition,
		"save_fetch":            t.saveFetch,
		"save_review":           t.saveReview,
		"save_draft":            t.saveDraft,
		"save_edit":             t.saveEdit,
		"revert_to_revision":    t.revertToRevision,
		"render_and_upload":     t.renderAndUpload,
		"mark_published":        t.markPublished,
	}
}

func errJSON(format string, args ...any) (string, error) {
	body, _ := json.Marshal(map[string]string{"error": fmt.Sprintf(format, args...)})
	return string(body), nil
}

func okJSON(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("agentstage: marshal tool result: %w", err)
	}
	return string(body), nil
}

// --- run ledger tools -------------------------------------------------

type recordStageStartArgs struct {
	Stage     string `json:"stage"`
	TriggerID string `json:"trigger_id"`
}

func (t *Toolset) recordStageStart(ctx context.Context, raw json.RawMessage) (string, error) {
	var args recordStageStartArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed record_stage_start payload: %v", err)
	}
	run, err := t.Ledger.RecordStageStart(ctx, models.AgentStage(args.Stage), args.TriggerID)
	if err != nil {
		if err == ledger.ErrRunAlreadyActive {
			return errJSON("a run is already active for stage %s trigger %s", args.Stage, args.TriggerID)
		}
		return "", err
	}
	return okJSON(map[string]string{"run_id": run.ID})
}

type recordStageCompleteArgs struct {
	RunID     string         `json:"run_id"`
	TriggerID string         `json:"trigger_id"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Usage     map[string]any `json:"usage,omitempty"`
}

func (t *Toolset) recordStageComplete(ctx context.Context, raw json.RawMessage) (string, error) {
	var args recordStageCompleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed record_stage_complete payload: %v", err)
	}
	run, err := t.Ledger.RecordStageComplete(ctx, args.RunID, args.TriggerID,
		models.AgentRunStatus(args.Status), args.Error, args.Usage)
	if err != nil {
		return "", err
	}
	return okJSON(map[string]string{"run_id": run.ID, "status": string(run.Status)})
}

// --- link/edition read tools -------------------------------------------

type getLinkArgs struct {
	LinkID       string `json:"link_id"`
	PartitionKey string `json:"partition_key"`
}

func (t *Toolset) getLink(ctx context.Context, raw json.RawMessage) (string, error) {
	var args getLinkArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed get_link payload: %v", err)
	}
	link, err := t.Links.Get(ctx, args.LinkID, args.PartitionKey)
	if err != nil {
		return "", err
	}
	if link == nil {
		return errJSON("link %s not found", args.LinkID)
	}
	return okJSON(link)
}

type getEditionArgs struct {
	EditionID string `json:"edition_id"`
}

func (t *Toolset) getEdition(ctx context.Context, raw json.RawMessage) (string, error) {
	var args getEditionArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed get_edition payload: %v", err)
	}
	edition, err := t.Editions.Get(ctx, args.EditionID, args.EditionID)
	if err != nil {
		return "", err
	}
	if edition == nil {
		return errJSON("edition %s not found", args.EditionID)
	}
	return okJSON(edition)
}

// --- stage-specific write tools ----------------------------------------

type saveFetchArgs struct {
	LinkID       string `json:"link_id"`
	PartitionKey string `json:"partition_key"`
	Content      string `json:"content"`
}

// saveFetch persists fetched page content and advances the link to
// `fetching` complete (the link moves to `reviewed` only once save_review
// runs — the fetch stage's job is just to capture content).
func (t *Toolset) saveFetch(ctx context.Context, raw json.RawMessage) (string, error) {
	var args saveFetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed save_fetch payload: %v", err)
	}
	link, err := t.Links.Get(ctx, args.LinkID, args.PartitionKey)
	if err != nil {
		return "", err
	}
	if link == nil {
		return errJSON("link %s not found", args.LinkID)
	}
	link.Content = args.Content
	link.Status = models.LinkStatusFetching
	if err := t.Links.Update(ctx, link, link.PartitionKey()); err != nil {
		return "", err
	}
	return okJSON(map[string]string{"status": string(link.Status)})
}

type saveReviewArgs struct {
	LinkID       string `json:"link_id"`
	PartitionKey string `json:"partition_key"`
	Review       string `json:"review"`
}

func (t *Toolset) saveReview(ctx context.Context, raw json.RawMessage) (string, error) {
	var args saveReviewArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed save_review payload: %v", err)
	}
	link, err := t.Links.Get(ctx, args.LinkID, args.PartitionKey)
	if err != nil {
		return "", err
	}
	if link == nil {
		return errJSON("link %s not found", args.LinkID)
	}
	link.Review = args.Review
	link.Status = models.LinkStatusReviewed
	if err := t.Links.Update(ctx, link, link.PartitionKey()); err != nil {
		return "", err
	}
	return okJSON(map[string]string{"status": string(link.Status)})
}

type saveDraftArgs struct {
	LinkID       string         `json:"link_id"`
	PartitionKey string         `json:"partition_key"`
	EditionID    string         `json:"edition_id"`
	TriggerID    string         `json:"trigger_id"`
	Content      map[string]any `json:"content"`
	Summary      string         `json:"summary"`
}

// saveDraft is the tool the draft stage's guardrail checks for: it writes
// the edition content, appends a draft Revision, advances the link to
// `drafted`, and adds the link to the edition's link_ids.
func (t *Toolset) saveDraft(ctx context.Context, raw json.RawMessage) (string, error) {
	var args saveDraftArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed save_draft payload: %v", err)
	}

	edition, err := t.Editions.Get(ctx, args.EditionID, args.EditionID)
	if err != nil {
		return "", err
	}
	if edition == nil {
		return errJSON("edition %s not found", args.EditionID)
	}
	edition.Content = args.Content
	edition.Status = models.EditionStatusDrafting
	edition.AddLinkID(args.LinkID)
	if err := t.Editions.Update(ctx, edition, edition.PartitionKey()); err != nil {
		return "", err
	}

	if err := t.appendRevision(ctx, args.EditionID, args.TriggerID, models.RevisionSourceDraft, args.Content, args.Summary); err != nil {
		return "", err
	}

	link, err := t.Links.Get(ctx, args.LinkID, args.PartitionKey)
	if err != nil {
		return "", err
	}
	if link != nil {
		link.Status = models.LinkStatusDrafted
		link.EditionID = args.EditionID
		if err := t.Links.Update(ctx, link, args.PartitionKey); err != nil {
			return "", err
		}
	}

	return okJSON(map[string]string{"status": "drafted"})
}

type saveEditArgs struct {
	EditionID  string         `json:"edition_id"`
	TriggerID  string         `json:"trigger_id"`
	FeedbackID string         `json:"feedback_id"`
	Content    map[string]any `json:"content"`
	Summary    string         `json:"summary"`
}

// saveEdit applies an edit-stage revision, resolves the triggering
// feedback, and persists an edit Revision.
func (t *Toolset) saveEdit(ctx context.Context, raw json.RawMessage) (string, error) {
	var args saveEditArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed save_edit payload: %v", err)
	}

	edition, err := t.Editions.Get(ctx, args.EditionID, args.EditionID)
	if err != nil {
		return "", err
	}
	if edition == nil {
		return errJSON("edition %s not found", args.EditionID)
	}
	edition.Content = args.Content
	if err := t.Editions.Update(ctx, edition, edition.PartitionKey()); err != nil {
		return "", err
	}

	if err := t.appendRevision(ctx, args.EditionID, args.TriggerID, models.RevisionSourceEdit, args.Content, args.Summary); err != nil {
		return "", err
	}

	if args.FeedbackID != "" {
		feedback, err := t.Feedbacks.Get(ctx, args.FeedbackID, args.EditionID)
		if err != nil {
			return "", err
		}
		if feedback != nil {
			feedback.Resolved = true
			if err := t.Feedbacks.Update(ctx, feedback, feedback.PartitionKey()); err != nil {
				return "", err
			}
		}
	}

	if fc, ok := FeedbackFromContext(ctx); ok && !fc.SkipMemoryCapture {
		_ = t.Memory.Capture(ctx, args.EditionID, args.Summary)
	}

	return okJSON(map[string]string{"status": "edited"})
}

type revertToRevisionArgs struct {
	EditionID  string `json:"edition_id"`
	TriggerID  string `json:"trigger_id"`
	RevisionID string `json:"revision_id"`
}

// revertToRevision restores edition.content from an earlier Revision and
// records a new `revert`-sourced Revision so history stays append-only.
func (t *Toolset) revertToRevision(ctx context.Context, raw json.RawMessage) (string, error) {
	var args revertToRevisionArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed revert_to_revision payload: %v", err)
	}

	target, err := t.Revisions.Get(ctx, args.RevisionID, args.EditionID)
	if err != nil {
		return "", err
	}
	if target == nil {
		return errJSON("revision %s not found", args.RevisionID)
	}

	edition, err := t.Editions.Get(ctx, args.EditionID, args.EditionID)
	if err != nil {
		return "", err
	}
	if edition == nil {
		return errJSON("edition %s not found", args.EditionID)
	}
	edition.Content = target.Content
	if err := t.Editions.Update(ctx, edition, edition.PartitionKey()); err != nil {
		return "", err
	}

	summary := fmt.Sprintf("reverted to revision %s", target.ID)
	if err := t.appendRevision(ctx, args.EditionID, args.TriggerID, models.RevisionSourceRevert, target.Content, summary); err != nil {
		return "", err
	}

	return okJSON(map[string]string{"status": "reverted"})
}

// --- publish tools -------------------------------------------------------

type renderAndUploadArgs struct {
	EditionID string `json:"edition_id"`
}

// renderAndUpload renders edition to HTML and uploads both the
// per-edition artifact (editions/<id>.html) and a refreshed index.html
// over every published edition.
func (t *Toolset) renderAndUpload(ctx context.Context, raw json.RawMessage) (string, error) {
	var args renderAndUploadArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed render_and_upload payload: %v", err)
	}

	edition, err := t.Editions.Get(ctx, args.EditionID, args.EditionID)
	if err != nil {
		return "", err
	}
	if edition == nil {
		return errJSON("edition %s not found", args.EditionID)
	}

	html, err := t.Renderer.RenderEdition(edition)
	if err != nil {
		return "", fmt.Errorf("agentstage: render edition: %w", err)
	}
	blobName := fmt.Sprintf("editions/%s.html", edition.ID)
	if err := t.Uploader.Upload(ctx, blobName, html, "text/html; charset=utf-8"); err != nil {
		return "", fmt.Errorf("agentstage: upload edition: %w", err)
	}

	published, err := t.Editions.Query(ctx, `body->>'status' = @status`,
		map[string]any{"status": string(models.EditionStatusPublished)})
	if err != nil {
		return "", err
	}
	index, err := t.Renderer.RenderIndex(published)
	if err != nil {
		return "", fmt.Errorf("agentstage: render index: %w", err)
	}
	if err := t.Uploader.Upload(ctx, "index.html", index, "text/html; charset=utf-8"); err != nil {
		return "", fmt.Errorf("agentstage: upload index: %w", err)
	}

	return okJSON(map[string]string{"status": "uploaded", "edition_id": edition.ID})
}

type markPublishedArgs struct {
	EditionID string `json:"edition_id"`
}

// markPublished transitions an edition to its terminal published state.
func (t *Toolset) markPublished(ctx context.Context, raw json.RawMessage) (string, error) {
	var args markPublishedArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed mark_published payload: %v", err)
	}

	edition, err := t.Editions.Get(ctx, args.EditionID, args.EditionID)
	if err != nil {
		return "", err
	}
	if edition == nil {
		return errJSON("edition %s not found", args.EditionID)
	}

	now := timeNow()
	edition.Status = models.EditionStatusPublished
	edition.PublishedAt = &now
	if err := t.Editions.Update(ctx, edition, edition.PartitionKey()); err != nil {
		return "", err
	}
	return okJSON(map[string]string{"status": "published", "edition_id": edition.ID})
}

type runDraftStageArgs struct {
	Task string `json:"task"`
}

// runDraftStage hands the drafting task to the guardrailed draft runner
// and reports its outcome back to the orchestrator agent.
func (t *Toolset) runDraftStage(ctx context.Context, raw json.RawMessage) (string, error) {
	var args runDraftStageArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errJSON("malformed run_draft_stage payload: %v", err)
	}
	if t.Draft == nil {
		return errJSON("draft stage runner is not configured")
	}
	result := t.Draft.Run(ctx, args.Task)
	if !result.Success {
		return errJSON("draft stage failed: %s", result.Error)
	}
	return okJSON(map[string]any{"text": result.Text, "usage": result.Usage})
}

// appendRevision computes the next monotonic sequence for editionID and
// persists a new Revision.
func (t *Toolset) appendRevision(ctx context.Context, editionID, triggerID string, source models.RevisionSource, content map[string]any, summary string) error {
	existing, err := t.Revisions.Query(ctx, `body->>'edition_id' = @edition_id`, map[string]any{"edition_id": editionID})
	if err != nil {
		return err
	}
	next := 1
	for _, rev := range existing {
		if rev.Sequence >= next {
			next = rev.Sequence + 1
		}
	}
	rev := &models.Revision{
		EditionID: editionID,
		Sequence:  next,
		Source:    source,
		TriggerID: triggerID,
		Content:   content,
		Summary:   summary,
	}
	return t.Revisions.Create(ctx, rev)
}
