// Package httpapi exposes resolution, feedback, and operations endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/VelocityFibre/ff-agent/internal/feedback"
	"github.com/VelocityFibre/ff-agent/internal/patternstore"
	"github.com/VelocityFibre/ff-agent/internal/perfmon"
	"github.com/VelocityFibre/ff-agent/internal/router"
)

// Server wires the resolution pipeline to HTTP.
type Server struct {
	echo    *echo.Echo
	router  *router.Router
	learner *feedback.Learner
	monitor *perfmon.Monitor
	store   *patternstore.Store
	logger  *zap.Logger
}

// New creates the HTTP server and registers all routes.
func New(r *router.Router, learner *feedback.Learner, monitor *perfmon.Monitor, store *patternstore.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		router:  r,
		learner: learner,
		monitor: monitor,
		store:   store,
		logger:  logger,
	}

	e.POST("/resolve", s.handleResolve)
	e.POST("/feedback", s.handleFeedback)
	e.GET("/records/:id", s.handleRecord)
	e.GET("/performance", s.handlePerformance)
	e.GET("/patterns/flagged", s.handleFlagged)
	e.POST("/patterns/prune", s.handlePrune)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", s.handleHealth)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(port int) error {
	return s.echo.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type resolveRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleResolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	record := s.router.Resolve(c.Request().Context(), req.Question)
	s.monitor.Observe(perfmon.Sample{
		Tier:     string(record.Tier),
		Duration: record.Duration,
		ErrKind:  sampleErrKind(record),
	})
	return c.JSON(http.StatusOK, record)
}

// sampleErrKind maps degraded resolutions to monitor error kinds. A clean
// resolution yields an empty kind.
func sampleErrKind(record router.QueryRecord) string {
	switch {
	case record.State == router.StateResolvedLowConfidence:
		return "tier_exhausted"
	case record.CacheSkipped:
		return "embedder_unavailable"
	}
	return ""
}

func (s *Server) handleFeedback(c echo.Context) error {
	var event feedback.Event
	if err := c.Bind(&event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.learner.Ingest(c.Request().Context(), event)
	switch {
	case errors.Is(err, feedback.ErrUnknownQuery):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, feedback.ErrInvalidVerdict), errors.Is(err, feedback.ErrMissingCorrection):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("feedback ingest failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "feedback ingest failed")
	}
	s.observeOutcome(event)
	return c.JSON(http.StatusAccepted, map[string]any{
		"record_id":   event.RecordID,
		"corrections": s.learner.Corrections(),
	})
}

// observeOutcome folds a judged verdict into the rolling window so that
// sustained bad answers degrade health even when resolution itself never
// erred. Neutral verdicts carry no judgement and are not observed.
func (s *Server) observeOutcome(event feedback.Event) {
	record, err := s.router.Records().Get(event.RecordID)
	if err != nil {
		return
	}

	var errKind string
	switch event.Verdict {
	case feedback.VerdictPositive:
	case feedback.VerdictNegative:
		errKind = event.ErrKind
		if errKind == "" {
			errKind = "wrong_results"
		}
	case feedback.VerdictCorrection:
		errKind = "corrected"
	default:
		return
	}
	s.monitor.Observe(perfmon.Sample{
		Tier:     string(record.Tier),
		Duration: record.Duration,
		ErrKind:  errKind,
	})
}

func (s *Server) handleRecord(c echo.Context) error {
	record, err := s.router.Records().Get(c.Param("id"))
	if errors.Is(err, router.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) handlePerformance(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleFlagged(c echo.Context) error {
	flagged, err := s.store.Flagged(c.Request().Context())
	if err != nil {
		s.logger.Error("flagged sweep failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "flagged sweep failed")
	}
	if flagged == nil {
		flagged = []patternstore.Pattern{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"flagged": flagged,
		"total":   s.store.Count(),
	})
}

type pruneRequest struct {
	Questions []string `json:"questions"`
}

func (s *Server) handlePrune(c echo.Context) error {
	var req pruneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Questions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "questions are required")
	}
	if err := s.store.Prune(c.Request().Context(), req.Questions); err != nil {
		s.logger.Error("prune failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "prune failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"pruned":    len(req.Questions),
		"remaining": s.store.Count(),
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	snap := s.monitor.Snapshot()
	status := http.StatusOK
	if snap.Health != perfmon.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{
		"health":  snap.Health,
		"samples": snap.Samples,
	})
}
