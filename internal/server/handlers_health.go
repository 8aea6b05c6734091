package server

import (
	"github.com/labstack/echo/v4"

	"github.com/scikido/meter/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := s.clock.Now().Sub(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleReadiness reports ready as soon as the process is serving. Sessions
// dial the channel network on demand, so there is no upstream to probe
// ahead of time.
func (s *Server) handleReadiness(c echo.Context) error {
	return c.JSON(200, map[string]any{
		"status":          "ready",
		"active_sessions": len(s.app.ListSessions()),
	})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(200, version.Get())
}
