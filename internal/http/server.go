// Package http provides the HTTP API for mirrord.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirrord/internal/embeddings"
	"github.com/fyrsmithlabs/mirrord/internal/materializer"
	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/reconciler"
	"github.com/fyrsmithlabs/mirrord/internal/vectorstore"
)

// Server provides HTTP endpoints for mirrord.
type Server struct {
	echo       *echo.Echo
	docs       materializer.Service
	mirror     mirror.Store
	vectors    vectorstore.Store
	reconciler reconciler.Service
	scheduler  *reconciler.Scheduler
	generator  embeddings.Generator
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
//
// scheduler and generator are optional; the sync status endpoint omits
// scheduler fields without one, and POST /api/v1/ask returns 501 without
// a generator.
func NewServer(docs materializer.Service, mirrorStore mirror.Store, vectors vectorstore.Store, rec reconciler.Service, scheduler *reconciler.Scheduler, generator embeddings.Generator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if docs == nil {
		return nil, fmt.Errorf("materializer service cannot be nil")
	}
	if mirrorStore == nil {
		return nil, fmt.Errorf("mirror store cannot be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if rec == nil {
		return nil, fmt.Errorf("reconciler service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:       e,
		docs:       docs,
		mirror:     mirrorStore,
		vectors:    vectors,
		reconciler: rec,
		scheduler:  scheduler,
		generator:  generator,
		logger:     logger,
		config:     cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleCreateDocument)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.PUT("/documents/:id", s.handleUpdateDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.GET("/search", s.handleSearch)
	v1.POST("/ask", s.handleAsk)
	v1.GET("/sync/status", s.handleSyncStatus)
	v1.POST("/sync", s.handleSync)
}

// Echo returns the underlying echo instance for extra route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
