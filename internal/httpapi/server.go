// Package httpapi serves the alignment service over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP front end of the dispatcher.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	dispatcher *service.Dispatcher
	logger     *logrus.Entry
}

// NewServer builds the engine and registers all routes.
func NewServer(addr string, dispatcher *service.Dispatcher) *Server {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	s := &Server{
		engine:     engine,
		dispatcher: dispatcher,
		logger:     logrus.WithField("component", "http"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	engine.Use(recovery(s.logger), requestID(), requestLogger(s.logger))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/timestamps", s.handleTimestamps)
	s.engine.POST("/align", s.handleAlign)
	s.engine.POST("/speakers", s.handleSpeakers)
	s.engine.GET("/jobs", s.handleListJobs)
	s.engine.GET("/jobs/:id", s.handleGetJob)
	s.engine.GET("/queue", s.handleQueueStatus)
}

// Handler returns the engine for use with httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
		}
	}()

	s.logger.WithField("addr", listener.Addr().String()).Info("HTTP server started")
	return nil
}

// Stop gracefully shuts down the server with a 5 second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("HTTP server shut down")
	return nil
}
