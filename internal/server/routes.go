package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Session API
	s.echo.POST("/api/session/start", s.handleStartSession)
	s.echo.POST("/api/session/:id/increment", s.handleIncrementUsage)
	s.echo.POST("/api/session/:id/end", s.handleEndSession)
	s.echo.GET("/api/sessions", s.handleListSessions)
	s.echo.GET("/api/session/:id", s.handleGetSession)
}
