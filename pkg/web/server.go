// Package web is the HTTP front-end: CRUD over links, editions, and
// feedback, the agent-run query surface, the publish command route, and
// the SSE event stream connected clients watch for pipeline updates.
package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ljtill/curate/pkg/events"
	"github.com/ljtill/curate/pkg/models"
)

// LinkStore is the links repository surface the handlers use.
type LinkStore interface {
	Create(ctx context.Context, link *models.Link) error
	Get(ctx context.Context, id, partitionKey string) (*models.Link, error)
	Update(ctx context.Context, link *models.Link, partitionKey string) error
	SoftDelete(ctx context.Context, link *models.Link, partitionKey string) error
	Query(ctx context.Context, predicate string, params map[string]any) ([]*models.Link, error)
}

// EditionStore is the editions repository surface the handlers use.
type EditionStore interface {
	Create(ctx context.Context, edition *models.Edition) error
	Get(ctx context.Context, id, partitionKey string) (*models.Edition, error)
	Query(ctx context.Context, predicate string, params map[string]any) ([]*models.Edition, error)
}

// FeedbackStore is the feedback repository surface the handlers use.
type FeedbackStore interface {
	Create(ctx context.Context, feedback *models.Feedback) error
	Query(ctx context.Context, predicate string, params map[string]any) ([]*models.Feedback, error)
}

// RunQueries is the agent-run query surface (satisfied by *ledger.Ledger).
type RunQueries interface {
	ListRecent(ctx context.Context, limit int) ([]*models.AgentRun, error)
	ListRecentByStage(ctx context.Context, stage models.AgentStage, limit int) ([]*models.AgentRun, error)
	GetByTrigger(ctx context.Context, triggerID string) ([]*models.AgentRun, error)
	CountByStatus(ctx context.Context, limit int) (map[models.AgentRunStatus]int, error)
	AggregateTokenUsage(ctx context.Context, limit int) (models.TokenUsage, error)
	ListRecentFailures(ctx context.Context, limit int) ([]*models.AgentRun, error)
}

// PublishSender forwards publish commands to the worker (satisfied by
// *events.SQLBus). Enabled reports whether a bus is configured.
type PublishSender interface {
	Enabled() bool
	SendPublishCommand(ctx context.Context, editionID string) error
}

// Server routes the front-end's HTTP surface.
type Server struct {
	engine    *gin.Engine
	publisher *events.Publisher
	links     LinkStore
	editions  EditionStore
	feedback  FeedbackStore
	runs      RunQueries
	commands  PublishSender
}

// NewServer builds the router. commands may be nil when no bus is
// configured; the publish route then reports the capability as
// unavailable instead of dropping commands silently.
func NewServer(publisher *events.Publisher, links LinkStore, editions EditionStore, feedback FeedbackStore, runs RunQueries, commands PublishSender) *Server {
	s := &Server{
		engine:    gin.New(),
		publisher: publisher,
		links:     links,
		editions:  editions,
		feedback:  feedback,
		runs:      runs,
		commands:  commands,
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/events", s.streamEvents)

	api := s.engine.Group("/api")
	{
		api.POST("/links", s.createLink)
		api.GET("/links", s.listLinks)
		api.GET("/links/:id", s.getLink)
		api.POST("/links/:id/retry", s.retryLink)
		api.DELETE("/links/:id", s.deleteLink)

		api.POST("/editions", s.createEdition)
		api.GET("/editions", s.listEditions)
		api.GET("/editions/:id", s.getEdition)
		api.POST("/editions/:id/publish", s.publishEdition)
		api.GET("/editions/:id/feedback", s.listFeedback)

		api.POST("/feedback", s.createFeedback)

		api.GET("/runs", s.listRuns)
		api.GET("/runs/failures", s.listRunFailures)
		api.GET("/runs/stats", s.runStats)
		api.GET("/runs/trigger/:id", s.runsByTrigger)
	}
}

// --- links ---------------------------------------------------------------

type createLinkRequest struct {
	URL       string `json:"url" binding:"required"`
	Title     string `json:"title"`
	EditionID string `json:"edition_id"`
}

func (s *Server) createLink(c *gin.Context) {
	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	link := &models.Link{
		URL:       req.URL,
		Title:     req.Title,
		EditionID: req.EditionID,
		Status:    models.LinkStatusSubmitted,
	}
	if err := s.links.Create(c.Request.Context(), link); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (s *Server) listLinks(c *gin.Context) {
	var (
		links []*models.Link
		err   error
	)
	if editionID := c.Query("edition_id"); editionID != "" {
		links, err = s.links.Query(c.Request.Context(),
			`body->>'edition_id' = @edition_id`, map[string]any{"edition_id": editionID})
	} else {
		links, err = s.links.Query(c.Request.Context(), "", nil)
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, links)
}

func (s *Server) getLink(c *gin.Context) {
	link, ok := s.lookupLink(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, link)
}

// retryLink re-submits a failed link: resetting its status writes a fresh
// change-feed entry, and the claim set admits `submitted` events again.
func (s *Server) retryLink(c *gin.Context) {
	link, ok := s.lookupLink(c)
	if !ok {
		return
	}
	if link.Status != models.LinkStatusFailed {
		c.JSON(http.StatusConflict, gin.H{"error": "only failed links can be retried"})
		return
	}
	link.Status = models.LinkStatusSubmitted
	if err := s.links.Update(c.Request.Context(), link, link.PartitionKey()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, link)
}

func (s *Server) deleteLink(c *gin.Context) {
	link, ok := s.lookupLink(c)
	if !ok {
		return
	}
	if err := s.links.SoftDelete(c.Request.Context(), link, link.PartitionKey()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lookupLink(c *gin.Context) (*models.Link, bool) {
	partitionKey := c.Query("partition_key")
	if partitionKey == "" {
		partitionKey = "unattached"
	}
	link, err := s.links.Get(c.Request.Context(), c.Param("id"), partitionKey)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, false
	}
	if link == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
		return nil, false
	}
	return link, true
}

// --- editions ------------------------------------------------------------

type createEditionRequest struct {
	Title string `json:"title"`
}

func (s *Server) createEdition(c *gin.Context) {
	var req createEditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	edition := &models.Edition{
		Status:  models.EditionStatusCreated,
		Content: map[string]any{"title": req.Title},
		LinkIDs: []string{},
	}
	if err := s.editions.Create(c.Request.Context(), edition); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, edition)
}

func (s *Server) listEditions(c *gin.Context) {
	editions, err := s.editions.Query(c.Request.Context(), "", nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, editions)
}

func (s *Server) getEdition(c *gin.Context) {
	edition, ok := s.lookupEdition(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, edition)
}

func (s *Server) publishEdition(c *gin.Context) {
	if s.commands == nil || !s.commands.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publishing requires a configured message bus"})
		return
	}
	edition, ok := s.lookupEdition(c)
	if !ok {
		return
	}
	if edition.Status == models.EditionStatusPublished {
		c.JSON(http.StatusConflict, gin.H{"error": "edition is already published"})
		return
	}
	if err := s.commands.SendPublishCommand(c.Request.Context(), edition.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"edition_id": edition.ID, "status": "publish requested"})
}

func (s *Server) lookupEdition(c *gin.Context) (*models.Edition, bool) {
	id := c.Param("id")
	edition, err := s.editions.Get(c.Request.Context(), id, id)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, false
	}
	if edition == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "edition not found"})
		return nil, false
	}
	return edition, true
}

// --- feedback ------------------------------------------------------------

type createFeedbackRequest struct {
	EditionID         string `json:"edition_id" binding:"required"`
	Section           string `json:"section"`
	Comment           string `json:"comment" binding:"required"`
	LearnFromFeedback bool   `json:"learn_from_feedback"`
}

func (s *Server) createFeedback(c *gin.Context) {
	var req createFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	feedback := &models.Feedback{
		EditionID:         req.EditionID,
		Section:           req.Section,
		Comment:           req.Comment,
		LearnFromFeedback: req.LearnFromFeedback,
	}
	if err := s.feedback.Create(c.Request.Context(), feedback); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, feedback)
}

func (s *Server) listFeedback(c *gin.Context) {
	items, err := s.feedback.Query(c.Request.Context(),
		`body->>'edition_id' = @edition_id`, map[string]any{"edition_id": c.Param("id")})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

// --- agent runs ----------------------------------------------------------

func (s *Server) listRuns(c *gin.Context) {
	limit := queryLimit(c)
	var (
		runs []*models.AgentRun
		err  error
	)
	if stage := c.Query("stage"); stage != "" {
		runs, err = s.runs.ListRecentByStage(c.Request.Context(), models.AgentStage(stage), limit)
	} else {
		runs, err = s.runs.ListRecent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) listRunFailures(c *gin.Context) {
	runs, err := s.runs.ListRecentFailures(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) runStats(c *gin.Context) {
	limit := queryLimit(c)
	counts, err := s.runs.CountByStatus(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	usage, err := s.runs.AggregateTokenUsage(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "usage": usage})
}

func (s *Server) runsByTrigger(c *gin.Context) {
	runs, err := s.runs.GetByTrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	return limit
}
