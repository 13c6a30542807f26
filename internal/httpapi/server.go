// Package httpapi serves a read-mostly HTTP view of the session store.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/pkg/models"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "localhost:8742"

// Sessions is the store surface the API reads from.
type Sessions interface {
	ListActive() []string
	ListResumable() []string
	Session(sessionID string) (*models.WorkflowSession, bool)
	Pause(sessionID string) (bool, error)
	Statistics() state.Statistics
}

var _ Sessions = (*state.Store)(nil)

// Server provides HTTP endpoints for baton.
type Server struct {
	echo     *echo.Echo
	sessions Sessions
	logger   *zap.Logger
	addr     string
}

// NewServer creates a new HTTP server. gatherer backs GET /metrics; nil
// means the default Prometheus registry.
func NewServer(sessions Sessions, gatherer prometheus.Gatherer, logger *zap.Logger, addr string) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("session store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if addr == "" {
		addr = DefaultAddr
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		sessions: sessions,
		logger:   logger,
		addr:     addr,
	}
	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/sessions/active", s.handleActive)
	v1.GET("/sessions/resumable", s.handleResumable)
	v1.GET("/sessions/:id", s.handleSession)
	v1.POST("/sessions/:id/pause", s.handlePause)
	v1.GET("/stats", s.handleStats)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SessionListResponse is the response body for the session list endpoints.
type SessionListResponse struct {
	SessionIDs []string `json:"session_ids"`
	Count      int      `json:"count"`
}

// PauseResponse is the response body for POST /api/v1/sessions/:id/pause.
type PauseResponse struct {
	SessionID string              `json:"session_id"`
	State     models.SessionState `json:"state"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleActive(c echo.Context) error {
	return c.JSON(http.StatusOK, listResponse(s.sessions.ListActive()))
}

func (s *Server) handleResumable(c echo.Context) error {
	return c.JSON(http.StatusOK, listResponse(s.sessions.ListResumable()))
}

func listResponse(ids []string) SessionListResponse {
	if ids == nil {
		ids = []string{}
	}
	return SessionListResponse{SessionIDs: ids, Count: len(ids)}
}

func (s *Server) handleSession(c echo.Context) error {
	sess, ok := s.sessions.Session(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handlePause(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.sessions.Session(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	paused, err := s.sessions.Pause(id)
	if err != nil {
		s.logger.Warn("pause failed", zap.String("session_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "pause failed")
	}
	if !paused {
		return echo.NewHTTPError(http.StatusConflict, "session already finished")
	}
	s.logger.Info("session paused over http", zap.String("session_id", id))
	return c.JSON(http.StatusOK, PauseResponse{SessionID: id, State: models.SessionPaused})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sessions.Statistics())
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	err := s.echo.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
