//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ljtill/curate/pkg/models"
)

// newTestStore spins up a disposable Postgres container, applies
// migrations, and returns a Store wired to it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("curate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn))

	s, err := Connect(ctx, dsn, 250*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreCRUDAndSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := NewRepository(s, "links", func() *models.Link { return &models.Link{} })

	link := &models.Link{URL: "https://example.com", Status: models.LinkStatusSubmitted, EditionID: "ed-1"}
	require.NoError(t, repo.Create(ctx, link))

	got, err := repo.Get(ctx, link.ID, "ed-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, link.URL, got.URL)

	got.Status = models.LinkStatusFetching
	require.NoError(t, repo.Update(ctx, got, "ed-1"))

	reloaded, err := repo.Get(ctx, link.ID, "ed-1")
	require.NoError(t, err)
	require.Equal(t, models.LinkStatusFetching, reloaded.Status)

	require.NoError(t, repo.SoftDelete(ctx, reloaded, "ed-1"))

	gone, err := repo.Get(ctx, link.ID, "ed-1")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestStoreChangeFeedResumesFromToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := NewRepository(s, "links", func() *models.Link { return &models.Link{} })

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &models.Link{URL: "https://example.com", Status: models.LinkStatusSubmitted}))
	}

	items, token, err := s.ChangeFeed(ctx, "links", "", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotEmpty(t, token)

	rest, _, err := s.ChangeFeed(ctx, "links", token, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestStoreQueryExcludesSoftDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := NewRepository(s, "feedback", func() *models.Feedback { return &models.Feedback{} })

	live := &models.Feedback{EditionID: "ed-1", Section: "intro", Comment: "tighten this"}
	require.NoError(t, repo.Create(ctx, live))
	dead := &models.Feedback{EditionID: "ed-1", Section: "intro", Comment: "stale"}
	require.NoError(t, repo.Create(ctx, dead))
	require.NoError(t, repo.SoftDelete(ctx, dead, "ed-1"))

	results, err := repo.Query(ctx, `body->>'edition_id' = @edition_id`, map[string]any{"edition_id": "ed-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "tighten this", results[0].Comment)
}
