// Package httpapi exposes the reporting and operations HTTP API: health,
// funnel statistics, dialog inspection, scenario listing, and conversion
// ingestion.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"usebot/internal/database"
	"usebot/internal/funnel"
	"usebot/internal/stats"
)

const defaultReportWindow = 7 * 24 * time.Hour

// EngineAPI is the subset of engine behavior the HTTP layer needs.
type EngineAPI interface {
	OnConversion(ctx context.Context, sig funnel.ConversionSignal) error
	GetDialogState(ctx context.Context, userID, chatID int64) (*database.DialogState, error)
}

// Server hosts the ops API on gin.
type Server struct {
	logger     *slog.Logger
	store      database.Store
	engine     EngineAPI
	catalog    *funnel.Catalog
	aggregator *stats.Aggregator
	httpServer *http.Server
}

func NewServer(
	logger *slog.Logger,
	addr string,
	store database.Store,
	engine EngineAPI,
	catalog *funnel.Catalog,
	aggregator *stats.Aggregator,
) *Server {
	s := &Server{
		logger:     logger.With("component", "httpapi"),
		store:      store,
		engine:     engine,
		catalog:    catalog,
		aggregator: aggregator,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/stats", s.handleStats)
		api.GET("/dialogs/:user_id/:chat_id", s.handleDialog)
		api.GET("/scenarios", s.handleScenarios)
		api.POST("/conversions", s.handleConversion)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http api listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", "error", err)
		return err
	}

	return <-errCh
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	to := time.Now()
	from := to.Add(-defaultReportWindow)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' timestamp"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' timestamp"})
			return
		}
		to = t
	}
	if from.After(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must not be after 'to'"})
		return
	}

	summary, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	report, err := s.aggregator.ComputeABPerformance(ctx, from, to)
	if err != nil {
		s.logger.Error("failed to compute ab report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute ab report"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":        summary,
		"ab_performance": report,
	})
}

func (s *Server) handleDialog(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat_id"})
		return
	}

	state, err := s.engine.GetDialogState(c.Request.Context(), userID, chatID)
	if err != nil {
		s.logger.Error("failed to load dialog state", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dialog state"})
		return
	}

	resp := gin.H{
		"user_id":    state.UserID,
		"chat_id":    state.ChatID,
		"step_order": state.StepOrder,
		"version":    state.Version,
		"pending":    state.Pending,
		"updated_at": state.UpdatedAt,
	}
	if state.ScenarioID.Valid {
		resp["scenario_id"] = state.ScenarioID.Int64
	}
	if state.NextEligibleAt.Valid {
		resp["next_eligible_at"] = state.NextEligibleAt.Time
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleScenarios(c *gin.Context) {
	snap, err := s.catalog.Snapshot(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to load catalog", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scenarios"})
		return
	}

	type stepView struct {
		Index   int    `json:"index"`
		Trigger string `json:"trigger,omitempty"`
	}
	type scenarioView struct {
		ID     int64      `json:"id"`
		Name   string     `json:"name"`
		Active bool       `json:"active"`
		Steps  []stepView `json:"steps"`
	}

	out := make([]scenarioView, 0, len(snap.Scenarios))
	for _, sc := range snap.Scenarios {
		view := scenarioView{ID: sc.ID, Name: sc.Name, Active: sc.Active}
		for _, st := range sc.Steps {
			view.Steps = append(view.Steps, stepView{Index: st.Index, Trigger: st.Trigger})
		}
		out = append(out, view)
	}

	c.JSON(http.StatusOK, gin.H{"scenarios": out})
}

type conversionRequest struct {
	UserID         int64     `json:"user_id" binding:"required"`
	ChatID         int64     `json:"chat_id"`
	ConversionType string    `json:"conversion_type" binding:"required"`
	Stage          int       `json:"stage"`
	At             time.Time `json:"at"`
}

func (s *Server) handleConversion(c *gin.Context) {
	var req conversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig := funnel.ConversionSignal{
		UserID:         req.UserID,
		ChatID:         req.ChatID,
		ConversionType: req.ConversionType,
		Stage:          req.Stage,
		At:             req.At,
	}

	if err := s.engine.OnConversion(c.Request.Context(), sig); err != nil {
		s.logger.Error("failed to ingest conversion", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest conversion"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
