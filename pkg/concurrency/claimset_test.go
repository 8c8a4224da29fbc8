package concurrency

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljtill/curate/pkg/models"
)

type fakeLinkLookup struct {
	links map[string]*models.Link
}

func (f *fakeLinkLookup) Get(ctx context.Context, id, partitionKey string) (*models.Link, error) {
	return f.links[id], nil
}

func TestClaimAdmitsSubmittedUnclaimedLink(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{
		"link-1": {Status: models.LinkStatusSubmitted},
	}}
	cs := NewClaimSet()

	token, ok, err := cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "link-1", token)
	assert.True(t, cs.Contains("link-1"))
}

func TestClaimRejectsAlreadyClaimedLink(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{
		"link-1": {Status: models.LinkStatusSubmitted},
	}}
	cs := NewClaimSet()

	_, ok1, err := cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")
	require.NoError(t, err)
	require.True(t, ok1)

	_, ok2, err := cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestClaimRejectsFailedLink(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{
		"link-1": {Status: models.LinkStatusFailed},
	}}
	cs := NewClaimSet()

	_, ok, err := cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimRejectsReplayedEventForDraftedLink(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{
		"link-1": {Status: models.LinkStatusDrafted},
	}}
	cs := NewClaimSet()

	_, ok, err := cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimRejectsNonSubmittedEventStatus(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{
		"link-1": {Status: models.LinkStatusSubmitted},
	}}
	cs := NewClaimSet()

	_, ok, err := cs.Claim(context.Background(), lookup, "link-1", "unattached", "reviewed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimRejectsMissingLink(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{}}
	cs := NewClaimSet()

	_, ok, err := cs.Claim(context.Background(), lookup, "ghost", "unattached", "submitted")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseAllowsReclaim(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{
		"link-1": {Status: models.LinkStatusSubmitted},
	}}
	cs := NewClaimSet()

	token, ok, err := cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")
	require.NoError(t, err)
	require.True(t, ok)

	cs.Release(token)
	assert.False(t, cs.Contains("link-1"))

	_, ok, err = cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimIsRaceSafeUnderConcurrentAttempts(t *testing.T) {
	lookup := &fakeLinkLookup{links: map[string]*models.Link{
		"link-1": {Status: models.LinkStatusSubmitted},
	}}
	cs := NewClaimSet()

	const attempts = 50
	var wg sync.WaitGroup
	successes := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, _ := cs.Claim(context.Background(), lookup, "link-1", "unattached", "submitted")
			successes[i] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
