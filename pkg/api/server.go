// Package api exposes the service over HTTP: a JSON REST surface for agent
// lifecycle and messaging, an SSE endpoint for resumable event streams, and
// sandbox pass-throughs.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openagentd/agentd/pkg/service"
	"github.com/openagentd/agentd/pkg/version"
)

// HealthFunc reports backend reachability for the health endpoint. Nil means
// no backend to check.
type HealthFunc func(ctx context.Context) error

// Server is the HTTP front end.
type Server struct {
	engine *gin.Engine
	svc    *service.AgentService
	health HealthFunc
}

// NewServer builds the router.
func NewServer(svc *service.AgentService, health HealthFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{engine: engine, svc: svc, health: health}
	s.routes()
	return s
}

// Handler returns the http.Handler for serving.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)

	v1 := s.engine.Group("/api/v1")
	agents := v1.Group("/agents")
	agents.POST("", s.createAgent)
	agents.GET("/flows", s.listFlows)
	agents.GET("/:id", s.getAgent)
	agents.DELETE("/:id", s.deleteAgent)
	agents.POST("/:id/send-message", s.sendMessage)
	agents.GET("/:id/events", s.streamEvents)
	agents.POST("/:id/shell", s.execShell)
	agents.POST("/:id/file", s.writeFile)
	agents.POST("/:id/list-files", s.listFiles)
	agents.GET("/:id/file/download", s.downloadFile)
}

// requestLogger logs each request with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "version": version.Full()}
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}
