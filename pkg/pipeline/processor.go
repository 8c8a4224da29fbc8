package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ljtill/curate/pkg/concurrency"
	"github.com/ljtill/curate/pkg/models"
	"github.com/ljtill/curate/pkg/store"
)

// Container names the processor polls and persists tokens for.
const (
	LinksContainer    = "links"
	FeedbackContainer = "feedback"
	MetadataContainer = "metadata"
)

// ChangeFeeder is the change-feed read surface (satisfied by *store.Store).
type ChangeFeeder interface {
	ChangeFeed(ctx context.Context, container, token string, pageSize int) ([]store.ChangeFeedItem, string, error)
}

// TokenStore persists continuation tokens in the metadata container
// (satisfied by *store.Repository[*models.ContinuationToken]).
type TokenStore interface {
	Get(ctx context.Context, id, partitionKey string) (*models.ContinuationToken, error)
	Create(ctx context.Context, token *models.ContinuationToken) error
	Update(ctx context.Context, token *models.ContinuationToken, partitionKey string) error
}

// ChangeHandlers receives the documents the processor dispatches
// (satisfied by *Orchestrator).
type ChangeHandlers interface {
	HandleLinkChange(ctx context.Context, doc map[string]any) error
	HandleFeedbackChange(ctx context.Context, doc map[string]any) error
}

// Processor is the change-feed poll loop: a single long-lived task that
// reads pages from the links and feedback containers, spawns bounded
// handler tasks, and persists continuation tokens so a restart resumes
// where the previous process left off.
type Processor struct {
	feed     ChangeFeeder
	tokens   TokenStore
	handlers ChangeHandlers
	sem      *concurrency.HandlerSemaphore

	pageSize     int
	pollInterval time.Duration
	maxBackoff   time.Duration

	wg         sync.WaitGroup
	tokenCache map[string]string
}

// NewProcessor builds a Processor. pageSize <= 0 falls back to 100;
// pollInterval <= 0 falls back to 1 second.
func NewProcessor(feed ChangeFeeder, tokens TokenStore, handlers ChangeHandlers, sem *concurrency.HandlerSemaphore, pageSize int, pollInterval time.Duration) *Processor {
	if pageSize <= 0 {
		pageSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Processor{
		feed:         feed,
		tokens:       tokens,
		handlers:     handlers,
		sem:          sem,
		pageSize:     pageSize,
		pollInterval: pollInterval,
		maxBackoff:   30 * time.Second,
		tokenCache:   make(map[string]string),
	}
}

// Run polls both feeds until ctx is cancelled, then cancels every
// in-flight handler task and waits for them to drain. It returns ctx's
// error on shutdown.
func (p *Processor) Run(ctx context.Context) error {
	handlerCtx, cancelHandlers := context.WithCancel(ctx)
	defer func() {
		cancelHandlers()
		p.wg.Wait()
	}()

	if err := p.loadTokens(ctx); err != nil {
		return err
	}
	slog.Info("pipeline: change-feed processor started",
		"page_size", p.pageSize, "poll_interval", p.pollInterval)

	consecutiveErrors := 0
	for ctx.Err() == nil {
		linksErr := p.processContainer(ctx, handlerCtx, LinksContainer, p.handlers.HandleLinkChange)
		feedbackErr := p.processContainer(ctx, handlerCtx, FeedbackContainer, p.handlers.HandleFeedbackChange)

		if linksErr == nil && feedbackErr == nil {
			consecutiveErrors = 0
			if err := sleepCtx(ctx, p.pollInterval); err != nil {
				break
			}
			continue
		}

		consecutiveErrors++
		pollErrorsTotal.Inc()
		err := linksErr
		if err == nil {
			err = feedbackErr
		}
		if consecutiveErrors == 1 {
			slog.Error("pipeline: change-feed poll failed", "error", err)
		} else {
			slog.Warn("pipeline: change-feed poll still failing",
				"error", err, "consecutive_errors", consecutiveErrors)
		}
		backoff := p.pollInterval << consecutiveErrors
		if backoff > p.maxBackoff || backoff <= 0 {
			backoff = p.maxBackoff
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			break
		}
	}

	slog.Info("pipeline: change-feed processor stopping")
	return ctx.Err()
}

// processContainer reads one page of changes for container and dispatches
// each item to handle on its own bounded handler task. The continuation
// token is persisted only when the page advanced it, so tokens are
// monotonic.
func (p *Processor) processContainer(ctx, handlerCtx context.Context, container string, handle func(context.Context, map[string]any) error) error {
	token := p.tokenCache[container]
	items, next, err := p.feed.ChangeFeed(ctx, container, token, p.pageSize)
	if err != nil {
		if store.IsEmptyFeedQuirk(err) {
			return nil
		}
		return fmt.Errorf("pipeline: poll %s: %w", container, err)
	}
	pollsTotal.WithLabelValues(container).Inc()

	for _, item := range items {
		doc := item.Body
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.sem.Acquire(handlerCtx); err != nil {
				return
			}
			defer p.sem.Release()
			handlersInFlight.Inc()
			defer handlersInFlight.Dec()
			if err := handle(handlerCtx, doc); err != nil && handlerCtx.Err() == nil {
				slog.Error("pipeline: change handler failed",
					"container", container, "error", err)
			}
		}()
	}

	if next != token {
		p.persistToken(ctx, container, next)
	}
	return nil
}

func (p *Processor) loadTokens(ctx context.Context) error {
	for _, container := range []string{LinksContainer, FeedbackContainer} {
		id := models.ContinuationTokenID(container)
		tok, err := p.tokens.Get(ctx, id, id)
		if err != nil {
			return fmt.Errorf("pipeline: load token for %s: %w", container, err)
		}
		if tok != nil {
			p.tokenCache[container] = tok.Token
		}
	}
	return nil
}

// persistToken upserts the container's continuation token. A persistence
// failure is logged and the in-memory cursor still advances: the page was
// already dispatched, and at-least-once replay after a restart is the
// accepted cost.
func (p *Processor) persistToken(ctx context.Context, container, token string) {
	p.tokenCache[container] = token

	id := models.ContinuationTokenID(container)
	existing, err := p.tokens.Get(ctx, id, id)
	if err == nil {
		if existing == nil {
			tok := &models.ContinuationToken{Token: token, Container: container}
			tok.ID = id
			err = p.tokens.Create(ctx, tok)
		} else {
			existing.Token = token
			err = p.tokens.Update(ctx, existing, id)
		}
	}
	if err != nil {
		slog.Warn("pipeline: persisting continuation token failed",
			"container", container, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
