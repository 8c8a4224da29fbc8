package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ljtill/curate/pkg/agentstage"
	"github.com/ljtill/curate/pkg/concurrency"
	"github.com/ljtill/curate/pkg/config"
	"github.com/ljtill/curate/pkg/events"
	"github.com/ljtill/curate/pkg/ledger"
	"github.com/ljtill/curate/pkg/memory"
	"github.com/ljtill/curate/pkg/models"
	"github.com/ljtill/curate/pkg/objectstore"
	"github.com/ljtill/curate/pkg/pipeline"
	"github.com/ljtill/curate/pkg/stage"
	"github.com/ljtill/curate/pkg/store"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker: change-feed processor and orchestrator",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if cfg.AgentURL == "" {
		return fmt.Errorf("worker: AGENT_URL is required")
	}

	st, err := store.Connect(ctx, cfg.DatabaseURL, cfg.SlowRepository)
	if err != nil {
		return err
	}
	defer st.Close()

	bus, err := events.NewSQLBus(cfg.BusConnectionString)
	if err != nil {
		return err
	}
	publisher := events.NewPublisher(cfg.EventQueueMaxSize, bus)

	links := store.NewRepository(st, pipeline.LinksContainer, func() *models.Link { return &models.Link{} })
	editions := store.NewRepository(st, "editions", func() *models.Edition { return &models.Edition{} })
	feedbacks := store.NewRepository(st, pipeline.FeedbackContainer, func() *models.Feedback { return &models.Feedback{} })
	revisions := store.NewRepository(st, "revisions", func() *models.Revision { return &models.Revision{} })
	runs := store.NewRepository(st, "agent_runs", func() *models.AgentRun { return &models.AgentRun{} })
	tokens := store.NewRepository(st, pipeline.MetadataContainer, func() *models.ContinuationToken { return &models.ContinuationToken{} })

	led := ledger.New(runs, publisher)
	recovered, err := led.RecoverOrphanedRuns(ctx)
	if err != nil {
		return fmt.Errorf("worker: orphan recovery: %w", err)
	}
	if recovered > 0 {
		slog.Info("worker: recovered orphaned runs", "count", recovered)
	}

	var limiter *rate.Limiter
	if cfg.AgentRequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.AgentRequestsPerMinute)), cfg.AgentRequestsPerMinute)
	}
	executor := stage.NewExecutor(stage.DefaultConfig(),
		stage.RateLimitMiddleware(limiter, 1),
		stage.LoggingMiddleware("orchestrator"),
	)

	var uploader objectstore.Uploader = objectstore.Discard{}
	if cfg.ObjectStoreBucket != "" {
		uploader, err = objectstore.NewS3Uploader(ctx, cfg.ObjectStoreBucket)
		if err != nil {
			return err
		}
	}
	renderer, err := objectstore.NewEditionRenderer()
	if err != nil {
		return err
	}

	agent := agentstage.NewHTTPAgent(cfg.AgentURL)
	toolset := &agentstage.Toolset{
		Ledger:    led,
		Links:     links,
		Editions:  editions,
		Feedbacks: feedbacks,
		Revisions: revisions,
		Memory:    memory.NoOp{},
		Uploader:  uploader,
		Renderer:  renderer,
	}
	toolset.Draft = &agentstage.DraftRunner{
		Agent:    agent,
		Executor: executor,
		Tools:    toolset.StageTools,
	}

	control := concurrency.NewController(cfg.MaxConcurrentHandlers)
	orch := pipeline.NewOrchestrator(links, led, executor, control, publisher, agent, toolset)
	processor := pipeline.NewProcessor(st, tokens, orch, control.Handlers, cfg.ChangeFeedPageSize, time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Run(gctx) })

	if bus.Enabled() {
		commandSub, err := events.NewCommandSubscriber(cfg.BusConnectionString)
		if err != nil {
			return err
		}
		consumer := events.NewCommandConsumer(commandSub, orch.HandlePublish)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	slog.Info("worker: started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("worker: stopped")
	return nil
}
