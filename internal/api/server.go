// Package api exposes the billing engine over REST.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
	"github.com/tardoc-pauschale-server/internal/feedback"
	"github.com/tardoc-pauschale-server/internal/middleware"
	"github.com/tardoc-pauschale-server/internal/service"
)

// Analyzer is the decision pipeline surface the server needs.
type Analyzer interface {
	AnalyzeBilling(ctx context.Context, req domain.BillingRequest) (*domain.BillingResponse, error)
}

// ExampleRunner replays stored baseline examples.
type ExampleRunner interface {
	RunExample(ctx context.Context, id, lang string) (*service.ExampleResult, error)
}

// Notifier forwards a feedback record to an external tracker.
type Notifier interface {
	Notify(ctx context.Context, fb *feedback.Feedback) error
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg      *config.Config
	analyzer Analyzer
	examples ExampleRunner
	store    *catalog.Store
	feedback feedback.Store
	notifier Notifier
	logger   *logrus.Logger
	router   *gin.Engine
	server   *http.Server
}

// NewServer wires routes and middleware. feedbackStore and notifier may be
// nil; the feedback endpoint then rejects submissions.
func NewServer(
	cfg *config.Config,
	analyzer Analyzer,
	examples ExampleRunner,
	store *catalog.Store,
	feedbackStore feedback.Store,
	notifier Notifier,
	logger *logrus.Logger,
) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AccessLog(logger))

	s := &Server{
		cfg:      cfg,
		analyzer: analyzer,
		examples: examples,
		store:    store,
		feedback: feedbackStore,
		notifier: notifier,
		logger:   logger,
		router:   router,
	}
	s.setupRoutes()
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/analyze-billing", s.handleAnalyzeBilling)
		api.POST("/test-example", s.handleTestExample)
		api.GET("/icd", s.handleICDSearch)
		api.GET("/chop", s.handleChopSearch)
		api.GET("/version", s.handleVersion)
		api.POST("/submit-feedback", s.handleSubmitFeedback)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   s.cfg.Version,
	})
}

func (s *Server) handleAnalyzeBilling(c *gin.Context) {
	var req domain.BillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewEngineError(domain.ErrInvalidInput, "input", "invalid request body", err))
		return
	}

	resp, err := s.analyzer.AnalyzeBilling(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTestExample(c *gin.Context) {
	var req struct {
		ID   string `json:"id" binding:"required"`
		Lang string `json:"lang"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewEngineError(domain.ErrInvalidInput, "input", "id is required", err))
		return
	}

	result, err := s.examples.RunExample(c.Request.Context(), req.ID, req.Lang)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

const searchLimit = 50

func (s *Server) handleICDSearch(c *gin.Context) {
	lang := domain.ParseLanguage(c.Query("lang"))
	hits := s.store.SearchTables(domain.TableICD, c.Query("q"), lang, searchLimit)
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (s *Server) handleChopSearch(c *gin.Context) {
	lang := domain.ParseLanguage(c.Query("lang"))
	hits := s.store.SearchTables(domain.TableTariff, c.Query("q"), lang, searchLimit)
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":       s.cfg.Version,
		"tarif_version": s.cfg.TarifVersion,
	})
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	if s.feedback == nil {
		s.writeError(c, domain.NewEngineError(domain.ErrInvalidInput, "feedback", "feedback store not configured", nil))
		return
	}

	var fb feedback.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		s.writeError(c, domain.NewEngineError(domain.ErrInvalidInput, "feedback", "invalid feedback body", err))
		return
	}
	if fb.InputText == "" || fb.UserType == "" {
		s.writeError(c, domain.NewEngineError(domain.ErrInvalidInput, "feedback", "input_text and user_type are required", nil))
		return
	}

	if err := s.feedback.Save(c.Request.Context(), &fb); err != nil {
		s.writeError(c, domain.NewEngineError(domain.ErrInternalServer, "feedback", "failed to save feedback", err))
		return
	}

	// External trackers are best-effort; the verdict is already persisted.
	if s.notifier != nil {
		if err := s.notifier.Notify(c.Request.Context(), &fb); err != nil {
			s.logger.WithError(err).Warn("Feedback notification failed")
		}
	}

	c.JSON(http.StatusCreated, gin.H{"status": "saved", "id": fb.ID})
}

// writeError maps the failure taxonomy onto HTTP statuses: invalid input
// 400, stage parse failures 422, upstream transport 504, everything else
// 500.
func (s *Server) writeError(c *gin.Context, err error) {
	ee, ok := domain.AsEngineError(err)
	if !ok {
		ee = domain.NewEngineError(domain.ErrInternalServer, "", err.Error(), err)
	}
	if id, exists := c.Get("request_id"); exists {
		if rid, ok := id.(string); ok {
			ee.RequestID = rid
		}
	}

	status := http.StatusInternalServerError
	switch ee.Code {
	case domain.ErrInvalidInput:
		status = http.StatusBadRequest
	case domain.ErrStage1Parse, domain.ErrStage2Parse:
		status = http.StatusUnprocessableEntity
	case domain.ErrTransport:
		status = http.StatusGatewayTimeout
	}

	s.logger.WithFields(logrus.Fields{
		"code":   ee.Code,
		"stage":  ee.Stage,
		"status": status,
	}).Warn("Request failed")

	c.JSON(status, gin.H{"error": ee})
}
