package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/internal/middleware"
	"github.com/hai-surveillance-server/internal/review"
)

// Server exposes the review workflow and candidate data over HTTP
type Server struct {
	log     *logrus.Logger
	store   domain.Store
	reviews *review.Manager
	hub     *Hub
	config  *domain.ServerConfig

	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, store domain.Store, reviews *review.Manager, hub *Hub, config *domain.ServerConfig) *Server {
	if logger.GetLevel() == logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	if config.RateLimit > 0 {
		router.Use(middleware.RateLimit(config.RateLimit, config.RateBurst))
	}

	s := &Server{
		log:     logger,
		store:   store,
		reviews: reviews,
		hub:     hub,
		config:  config,
		router:  router,
	}
	s.setupRoutes()
	return s
}

// Router returns the underlying gin engine, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
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

	s.hub.Close()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/candidates/:id", s.handleGetCandidate)
		v1.GET("/queue", s.handleQueue)
		v1.GET("/resolved", s.handleResolved)
		v1.POST("/candidates/:id/confirm", s.handleConfirm)
		v1.POST("/candidates/:id/override", s.handleOverride)
		v1.GET("/stream", s.hub.HandleStream)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
