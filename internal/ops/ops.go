// Package ops serves the operational HTTP surface: health, Prometheus
// metrics, and a small JSON stats endpoint.
package ops

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/odin-eye1/telegrambot/internal/metrics"
)

// SessionCounter reports live escrow sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// WatcherCounter reports live transaction watchers.
type WatcherCounter interface {
	Active() int
}

// BlockCounter reports the size of the block list.
type BlockCounter interface {
	Len() int
}

// Server is the ops HTTP server.
type Server struct {
	sessions SessionCounter
	watchers WatcherCounter
	blocked  BlockCounter
	logger   *slog.Logger
	srv      *http.Server
	router   *gin.Engine
}

// New builds the ops server listening on addr.
func New(addr string, sessions SessionCounter, watchers WatcherCounter, blocked BlockCounter, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		sessions: sessions,
		watchers: watchers,
		blocked:  blocked,
		logger:   logger,
	}

	s.router = gin.New()
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered", "error", recovered, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}))

	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/stats", s.statsHandler)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_sessions": s.sessions.ActiveSessions(),
		"active_watchers": s.watchers.Active(),
		"blocked_users":   s.blocked.Len(),
	})
}

// Start serves until Shutdown is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
