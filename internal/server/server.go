package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"

	"github.com/scikido/meter/internal/config"
	"github.com/scikido/meter/internal/domain"
	apperrors "github.com/scikido/meter/internal/errors"
	"github.com/scikido/meter/internal/platform/correlation"
)

// SessionService is the application surface the HTTP layer consumes.
type SessionService interface {
	StartSession(ctx context.Context, participantAddress string) (*domain.Session, error)
	IncrementUsage(ctx context.Context, sessionID string, cost decimal.Decimal) (*domain.Session, error)
	EndSession(ctx context.Context, sessionID string) (*domain.SettlementSummary, error)
	GetSession(sessionID string) (*domain.Session, error)
	ListSessions() []*domain.Session
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	app       SessionService
	clock     clockwork.Clock
	startTime time.Time
}

func NewServer(cfg *config.Config, app SessionService, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(correlationMiddleware())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		app:       app,
		clock:     clock,
		startTime: clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// correlationMiddleware tags every request context with a fresh correlation
// ID so log lines emitted during the request can be tied together. Requests
// addressing a specific session additionally carry the session ID.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
			if sessionID := c.Param("id"); sessionID != "" {
				ctx = correlation.WithSession(ctx, sessionID)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
