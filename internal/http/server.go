// Package http provides the HTTP API for latentd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/embeddings"
	"github.com/fyrsmithlabs/latentd/internal/logging"
	"github.com/fyrsmithlabs/latentd/internal/notify"
	"github.com/fyrsmithlabs/latentd/internal/workspace"
)

// ModelLister lists the available embedding models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]embeddings.Model, error)
}

// Server provides HTTP endpoints for latentd.
type Server struct {
	echo     *echo.Echo
	manager  *workspace.Manager
	broker   *notify.Broker
	models   ModelLister
	mixtures workspace.Mixtures
	logger   *zap.Logger
	config   *Config
	metrics  *apiMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Heartbeat is the interval of SSE keep-alive comments (default: 30s).
	Heartbeat time.Duration
}

// Deps are the services the HTTP API exposes.
type Deps struct {
	Manager  *workspace.Manager
	Broker   *notify.Broker
	Models   ModelLister
	Mixtures workspace.Mixtures
}

// requestValidator adapts go-playground/validator to echo.
type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("workspace manager cannot be nil")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8088,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}

	s := &Server{
		echo:     e,
		manager:  deps.Manager,
		broker:   deps.Broker,
		models:   deps.Models,
		mixtures: deps.Mixtures,
		logger:   logger,
		config:   cfg,
		metrics:  mustAPIMetrics(logger),
	}
	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			if id := c.Param("id"); id != "" && strings.HasPrefix(c.Path(), "/api/v1/experiments/") {
				ctx = logging.WithExperimentID(ctx, id)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := append(logging.ContextFields(ctx),
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			logger.Info("http request", fields...)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/models", s.handleListModels)
	v1.POST("/ellipse", s.handleEllipse)
	v1.GET("/mixtures/:id/contours", s.handleMixtureContours)

	exp := v1.Group("/experiments")
	exp.GET("", s.handleListExperiments)
	exp.POST("", s.handleCreateExperiment)
	exp.GET("/:id", s.handleGetExperiment)
	exp.PATCH("/:id", s.handleUpdateExperiment)
	exp.DELETE("/:id", s.handleDeleteExperiment)
	exp.POST("/:id/save", s.handleSaveExperiment)
	exp.POST("/:id/close", s.handleCloseExperiment)
	exp.GET("/:id/events", s.handleEvents)

	exp.GET("/:id/table", s.handleGetTable)
	exp.POST("/:id/table", s.handleLoadTable)
	exp.POST("/:id/columns", s.handleAddColumn)
	exp.DELETE("/:id/columns/:name", s.handleRemoveColumn)
	exp.PUT("/:id/cells", s.handleSetCell)
	exp.POST("/:id/records/stage", s.handleStageAllRecords)
	exp.PATCH("/:id/records/:index", s.handleUpdateRecord)
	exp.DELETE("/:id/records/:index", s.handleRemoveRecord)
	exp.PUT("/:id/records/:index/coordinates", s.handleEditCoordinates)

	exp.GET("/:id/queries", s.handleListQueries)
	exp.POST("/:id/queries/stage", s.handleStageQueries)
	exp.POST("/:id/promote", s.handlePromote)
	exp.PUT("/:id/model", s.handleSwitchModel)
	exp.POST("/:id/optimize", s.handleOptimize)
	exp.POST("/:id/seed", s.handleSeed)
}

// Echo returns the underlying echo instance for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// bind decodes and validates a request body.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
