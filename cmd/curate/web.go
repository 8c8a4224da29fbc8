package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ljtill/curate/pkg/config"
	"github.com/ljtill/curate/pkg/events"
	"github.com/ljtill/curate/pkg/ledger"
	"github.com/ljtill/curate/pkg/models"
	"github.com/ljtill/curate/pkg/pipeline"
	"github.com/ljtill/curate/pkg/store"
	"github.com/ljtill/curate/pkg/web"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Run the HTTP front-end: CRUD, run queries, and the event stream",
	RunE:  runWeb,
}

func runWeb(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	st, err := store.Connect(ctx, cfg.DatabaseURL, cfg.SlowRepository)
	if err != nil {
		return err
	}
	defer st.Close()

	// The web process never republishes to the bus — it only consumes
	// from it. Its publisher fans out to connected SSE clients.
	publisher := events.NewPublisher(cfg.EventQueueMaxSize, nil)

	links := store.NewRepository(st, pipeline.LinksContainer, func() *models.Link { return &models.Link{} })
	editions := store.NewRepository(st, "editions", func() *models.Edition { return &models.Edition{} })
	feedbacks := store.NewRepository(st, pipeline.FeedbackContainer, func() *models.Feedback { return &models.Feedback{} })
	runs := store.NewRepository(st, "agent_runs", func() *models.AgentRun { return &models.AgentRun{} })
	led := ledger.New(runs, nil)

	bus, err := events.NewSQLBus(cfg.BusConnectionString)
	if err != nil {
		return err
	}
	if !bus.Enabled() {
		slog.Warn("web: no bus configured, worker events will not reach connected clients")
	}

	server := web.NewServer(publisher, links, editions, feedbacks, led, bus)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if bus.Enabled() {
		subscriber, err := events.NewSubscriber(cfg.BusConnectionString)
		if err != nil {
			return err
		}
		consumer := events.NewConsumer(subscriber, publisher)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	g.Go(func() error {
		slog.Info("web: listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("web: stopped")
	return nil
}
