// Package ledger wraps the document store with operations specific to
// AgentRun records: creating orchestrator and stage runs,
// finalizing them, recovering orphans left running by a crashed process,
// and the query surface the web front-end and the run dashboard use.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ljtill/curate/pkg/events"
	"github.com/ljtill/curate/pkg/models"
	"github.com/ljtill/curate/pkg/store"
)

// Ledger persists AgentRun records and emits agent-run-start and
// agent-run-complete as runs start and finish. Orphan recovery emits no
// events.
type Ledger struct {
	repo      *store.Repository[*models.AgentRun]
	publisher *events.Publisher
}

// New constructs a Ledger over repo, emitting through publisher.
func New(repo *store.Repository[*models.AgentRun], publisher *events.Publisher) *Ledger {
	return &Ledger{repo: repo, publisher: publisher}
}

// ErrRunAlreadyActive is returned by RecordStageStart when an AgentRun for
// (triggerID, stage) is already running.
var ErrRunAlreadyActive = fmt.Errorf("ledger: a run is already active for this (trigger, stage)")

// CreateOrchestratorRun starts the top-level AgentRun for a link or
// feedback change.
func (l *Ledger) CreateOrchestratorRun(ctx context.Context, triggerID string, input map[string]any) (*models.AgentRun, error) {
	return l.startRun(ctx, models.AgentStageOrchestrator, triggerID, input)
}

// RecordStageStart is called by the orchestrator agent's tool dispatch
// before each sub-stage. It enforces
// that at most one AgentRun per (trigger_id, stage) is running.
func (l *Ledger) RecordStageStart(ctx context.Context, stage models.AgentStage, triggerID string) (*models.AgentRun, error) {
	active, err := l.repo.Query(ctx,
		`body->>'trigger_id' = @trigger_id AND body->>'stage' = @stage AND body->>'status' = @status`,
		map[string]any{"trigger_id": triggerID, "stage": string(stage), "status": string(models.AgentRunStatusRunning)})
	if err != nil {
		return nil, fmt.Errorf("ledger: record_stage_start: %w", err)
	}
	if len(active) > 0 {
		return nil, ErrRunAlreadyActive
	}
	return l.startRun(ctx, stage, triggerID, nil)
}

func (l *Ledger) startRun(ctx context.Context, stage models.AgentStage, triggerID string, input map[string]any) (*models.AgentRun, error) {
	now := time.Now()
	run := &models.AgentRun{
		Stage:     stage,
		TriggerID: triggerID,
		Status:    models.AgentRunStatusRunning,
		Input:     input,
		StartedAt: now,
	}
	if err := l.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("ledger: create run: %w", err)
	}
	l.emitStart(ctx, run)
	return run, nil
}

// RecordStageComplete finalizes an AgentRun, normalizing usage and emitting
// agent-run-complete.
func (l *Ledger) RecordStageComplete(ctx context.Context, runID, triggerID string, status models.AgentRunStatus, errMsg string, usage map[string]any) (*models.AgentRun, error) {
	run, err := l.repo.Get(ctx, runID, triggerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("ledger: no run %s for trigger %s", runID, triggerID)
	}

	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	if errMsg != "" {
		run.Output = map[string]any{"error": errMsg}
	}
	if usage != nil {
		run.Usage = models.NormalizeUsage(usage)
	}

	if err := l.repo.Update(ctx, run, run.TriggerID); err != nil {
		return nil, fmt.Errorf("ledger: update run: %w", err)
	}
	l.emitComplete(ctx, run)
	return run, nil
}

// CompleteWithOutput finalizes a run carrying free-form output (e.g. the
// orchestrator's {content: text} success payload) instead of a bare error.
func (l *Ledger) CompleteWithOutput(ctx context.Context, run *models.AgentRun, status models.AgentRunStatus, output map[string]any, usage map[string]any) error {
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	run.Output = output
	if usage != nil {
		run.Usage = models.NormalizeUsage(usage)
	}
	if err := l.repo.Update(ctx, run, run.TriggerID); err != nil {
		return fmt.Errorf("ledger: update run: %w", err)
	}
	l.emitComplete(ctx, run)
	return nil
}

// RecoverOrphanedRuns transitions every `running` AgentRun with no
// CompletedAt to `failed` with a fixed diagnostic output, and returns how
// many were recovered. Idempotent: a run already transitioned has
// CompletedAt set and will not match on a subsequent call.
func (l *Ledger) RecoverOrphanedRuns(ctx context.Context) (int, error) {
	orphans, err := l.repo.Query(ctx,
		`body->>'status' = @status AND NOT (body ? 'completed_at')`,
		map[string]any{"status": string(models.AgentRunStatusRunning)})
	if err != nil {
		return 0, fmt.Errorf("ledger: query orphans: %w", err)
	}

	now := time.Now()
	recovered := 0
	for _, run := range orphans {
		run.Status = models.AgentRunStatusFailed
		run.CompletedAt = &now
		run.Output = map[string]any{"error": "Recovered after process restart"}
		if err := l.repo.Update(ctx, run, run.TriggerID); err != nil {
			return recovered, fmt.Errorf("ledger: recover run %s: %w", run.ID, err)
		}
		recovered++
	}
	return recovered, nil
}

// ListRecent returns the most recently started runs across all stages.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]*models.AgentRun, error) {
	return l.repo.QueryRecent(ctx, "", nil, limit)
}

// ListRecentByStage returns the most recently started runs for one stage.
func (l *Ledger) ListRecentByStage(ctx context.Context, stage models.AgentStage, limit int) ([]*models.AgentRun, error) {
	return l.repo.QueryRecent(ctx, `body->>'stage' = @stage`, map[string]any{"stage": string(stage)}, limit)
}

// GetByTrigger returns every run for a single trigger (link or feedback id).
func (l *Ledger) GetByTrigger(ctx context.Context, triggerID string) ([]*models.AgentRun, error) {
	return l.repo.Query(ctx, `body->>'trigger_id' = @trigger_id`, map[string]any{"trigger_id": triggerID})
}

// GetByTriggers batch-loads runs for several triggers in one query,
// avoiding the N+1 pattern the per-link dashboard would otherwise hit.
func (l *Ledger) GetByTriggers(ctx context.Context, triggerIDs []string) ([]*models.AgentRun, error) {
	if len(triggerIDs) == 0 {
		return nil, nil
	}
	return l.repo.Query(ctx, `body->>'trigger_id' = ANY(@trigger_ids)`, map[string]any{"trigger_ids": triggerIDs})
}

// CountByStatus tallies the status of the most recent `limit` runs.
func (l *Ledger) CountByStatus(ctx context.Context, limit int) (map[models.AgentRunStatus]int, error) {
	runs, err := l.repo.QueryRecent(ctx, "", nil, limit)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.AgentRunStatus]int)
	for _, r := range runs {
		counts[r.Status]++
	}
	return counts, nil
}

// AggregateTokenUsage sums token usage over the most recent `limit` runs.
func (l *Ledger) AggregateTokenUsage(ctx context.Context, limit int) (models.TokenUsage, error) {
	runs, err := l.repo.QueryRecent(ctx, "", nil, limit)
	if err != nil {
		return models.TokenUsage{}, err
	}
	var total models.TokenUsage
	for _, r := range runs {
		if r.Usage == nil {
			continue
		}
		total.InputTokens += r.Usage.InputTokens
		total.OutputTokens += r.Usage.OutputTokens
		total.TotalTokens += r.Usage.TotalTokens
	}
	return total, nil
}

// ListRecentFailures returns the most recent `limit` failed runs.
func (l *Ledger) ListRecentFailures(ctx context.Context, limit int) ([]*models.AgentRun, error) {
	return l.repo.QueryRecent(ctx, `body->>'status' = @status`,
		map[string]any{"status": string(models.AgentRunStatusFailed)}, limit)
}

func (l *Ledger) emitStart(ctx context.Context, run *models.AgentRun) {
	if l.publisher == nil {
		return
	}
	l.publisher.Publish(ctx, events.Event{
		Type: events.TypeAgentRunStart,
		Data: events.AgentRunStartData{
			RunID:     run.ID,
			Stage:     string(run.Stage),
			TriggerID: run.TriggerID,
			StartedAt: run.StartedAt,
		},
	})
}

func (l *Ledger) emitComplete(ctx context.Context, run *models.AgentRun) {
	if l.publisher == nil {
		return
	}
	completedAt := time.Now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}
	l.publisher.Publish(ctx, events.Event{
		Type: events.TypeAgentRunComplete,
		Data: events.AgentRunCompleteData{
			RunID:       run.ID,
			Stage:       string(run.Stage),
			TriggerID:   run.TriggerID,
			Status:      string(run.Status),
			Output:      run.Output,
			CompletedAt: completedAt,
		},
	})
}
