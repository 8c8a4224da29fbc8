package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ljtill/curate/pkg/models"
)

// Repository is a typed view over one container (links, editions,
// feedback, agent_runs, revisions, metadata) of the document store.
type Repository[T models.Record] struct {
	store     *Store
	container string
	newT      func() T
}

// NewRepository binds a Repository to container. newT must return a fresh,
// addressable zero value (e.g. `func() *Link { return &Link{} }`) used to
// unmarshal rows.
func NewRepository[T models.Record](s *Store, container string, newT func() T) *Repository[T] {
	return &Repository[T]{store: s, container: container, newT: newT}
}

// Create inserts rec, assigning an ID and timestamps if absent.
func (r *Repository[T]) Create(ctx context.Context, rec T) error {
	now := time.Now()
	if rec.GetID() == "" {
		rec.SetID(uuid.NewString())
	}
	rec.Touch(now)
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", r.container, err)
	}
	return r.store.execRaw(ctx, "create", r.container, rec.GetID(), rec.PartitionKey(), body, nil, now)
}

// Get returns the record for (id, partitionKey), or the zero value and a
// nil error if it does not exist or is soft-deleted — the adapter never
// surfaces a not-found error.
func (r *Repository[T]) Get(ctx context.Context, id, partitionKey string) (T, error) {
	var zero T
	raw, err := r.store.getRaw(ctx, r.container, id, partitionKey)
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, nil
	}
	rec := r.newT()
	if err := json.Unmarshal(raw, rec); err != nil {
		return zero, fmt.Errorf("store: unmarshal %s: %w", r.container, err)
	}
	return rec, nil
}

// Update replaces rec's stored document in full, refreshing UpdatedAt.
func (r *Repository[T]) Update(ctx context.Context, rec T, partitionKey string) error {
	now := time.Now()
	rec.Touch(now)
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", r.container, err)
	}
	return r.store.execRaw(ctx, "update", r.container, rec.GetID(), partitionKey, body, rec.GetDeletedAt(), now)
}

// SoftDelete marks rec deleted and persists the tombstone.
func (r *Repository[T]) SoftDelete(ctx context.Context, rec T, partitionKey string) error {
	now := time.Now()
	rec.MarkDeleted(now)
	rec.Touch(now)
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", r.container, err)
	}
	return r.store.execRaw(ctx, "soft_delete", r.container, rec.GetID(), partitionKey, body, &now, now)
}

// Query runs a `@name`-parameterized predicate fragment against this
// container, auto-excluding soft-deleted rows.
func (r *Repository[T]) Query(ctx context.Context, predicate string, params map[string]any) ([]T, error) {
	rows, err := r.store.queryRaw(ctx, r.container, predicate, params)
	if err != nil {
		return nil, err
	}
	return r.unmarshalAll(rows)
}

// QueryRecent behaves like Query but returns at most limit rows, most
// recently created first.
func (r *Repository[T]) QueryRecent(ctx context.Context, predicate string, params map[string]any, limit int) ([]T, error) {
	rows, err := r.store.queryRawRecent(ctx, r.container, predicate, params, limit)
	if err != nil {
		return nil, err
	}
	return r.unmarshalAll(rows)
}

func (r *Repository[T]) unmarshalAll(rows [][]byte) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, raw := range rows {
		rec := r.newT()
		if err := json.Unmarshal(raw, rec); err != nil {
			return nil, fmt.Errorf("store: unmarshal %s: %w", r.container, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
