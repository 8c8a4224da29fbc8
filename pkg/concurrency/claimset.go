// Package concurrency implements the pipeline's concurrency controller:
// a per-link claim set preventing duplicate runs from replayed change
// events, a per-edition mutex map serializing feedback-driven edits, and
// a bounded handler semaphore.
package concurrency

import (
	"context"
	"fmt"
	"sync"

	"github.com/ljtill/curate/pkg/models"
)

// LinkLookup is the minimal read surface the claim set needs from the
// document store (satisfied by *store.Repository[*models.Link]).
type LinkLookup interface {
	Get(ctx context.Context, id, partitionKey string) (*models.Link, error)
}

// ClaimSet tracks links with an active handler. Claim and its
// link-status read are serialized by the same lock so a replayed or
// concurrent change event for the same link can never be admitted twice.
type ClaimSet struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewClaimSet constructs an empty ClaimSet.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{claimed: make(map[string]struct{})}
}

// Claim admits linkID for processing iff: the link exists, its status is
// not terminal (a replayed event for a drafted or failed link is stale),
// the event's status is `submitted` (the initial stage — anything else is
// a stale or already-in-flight event), and the link is not already
// claimed. On success it returns a token for Release; on any
// failure to admit, it returns ok=false with no side effects.
func (c *ClaimSet) Claim(ctx context.Context, lookup LinkLookup, linkID, partitionKey, eventStatus string) (token string, ok bool, err error) {
	if eventStatus != string(models.LinkStatusSubmitted) {
		return "", false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.claimed[linkID]; exists {
		return "", false, nil
	}

	link, err := lookup.Get(ctx, linkID, partitionKey)
	if err != nil {
		return "", false, fmt.Errorf("concurrency: claim: %w", err)
	}
	if link == nil || link.Status.Terminal() {
		return "", false, nil
	}

	c.claimed[linkID] = struct{}{}
	return linkID, true, nil
}

// Release removes a claim token (the link id) from the set.
func (c *ClaimSet) Release(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, token)
}

// Contains reports whether linkID currently holds a claim — exposed for
// tests and health checks.
func (c *ClaimSet) Contains(linkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.claimed[linkID]
	return ok
}
