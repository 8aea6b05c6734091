package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/scikido/meter/internal/allocation"
	"github.com/scikido/meter/internal/domain"
	apperrors "github.com/scikido/meter/internal/errors"
)

// sessionView is the JSON shape exposed for one active session, including
// the running split and the balance still available to meter against.
type sessionView struct {
	SessionID          string    `json:"sessionId"`
	ChannelSessionID   string    `json:"channelSessionId"`
	Participant        string    `json:"participant"`
	Counterparty       string    `json:"counterparty"`
	Asset              string    `json:"asset"`
	InitialAllocation  string    `json:"initialAllocation"`
	UsageCount         uint64    `json:"usageCount"`
	TotalCost          string    `json:"totalCost"`
	RemainingBalance   string    `json:"remainingBalance"`
	ParticipantAmount  string    `json:"participantAmount"`
	CounterpartyAmount string    `json:"counterpartyAmount"`
	StartedAt          time.Time `json:"startedAt"`
}

func newSessionView(session *domain.Session) sessionView {
	split := allocation.SettlementSplit(session.InitialAllocation, session.TotalCost)
	return sessionView{
		SessionID:          session.ID,
		ChannelSessionID:   session.ChannelSessionID,
		Participant:        session.ParticipantAddress,
		Counterparty:       session.CounterpartyAddress,
		Asset:              session.Asset,
		InitialAllocation:  session.InitialAllocation.StringFixed(domain.AmountDecimals),
		UsageCount:         session.UsageCount,
		TotalCost:          session.TotalCost.StringFixed(domain.AmountDecimals),
		RemainingBalance:   allocation.CurrentBalance(session.InitialAllocation, session.TotalCost).StringFixed(domain.AmountDecimals),
		ParticipantAmount:  split.Participant.StringFixed(domain.AmountDecimals),
		CounterpartyAmount: split.Counterparty.StringFixed(domain.AmountDecimals),
		StartedAt:          session.StartTime,
	}
}

type startSessionRequest struct {
	ParticipantAddress string `json:"participantAddress"`
}

func (s *Server) handleStartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	session, err := s.app.StartSession(c.Request().Context(), req.ParticipantAddress)
	if err != nil {
		var dup *domain.DuplicateSessionError
		switch {
		case errors.As(err, &dup):
			return apperrors.ConflictError("participant already has an active session").
				WithField("participant", dup.Participant).
				WithField("existing_session_id", dup.ExistingSessionID)
		case errors.Is(err, domain.ErrUnknownParticipant):
			return apperrors.ValidationError("unknown participant wallet").
				WithField("participant", req.ParticipantAddress)
		default:
			return mapTransportError("failed to start session", err)
		}
	}

	if err := c.JSON(201, newSessionView(session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type incrementRequest struct {
	Cost string `json:"cost"`
}

func (s *Server) handleIncrementUsage(c echo.Context) error {
	sessionID := c.Param("id")

	var req incrementRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	cost := decimal.Zero
	if req.Cost != "" {
		var err error
		cost, err = decimal.NewFromString(req.Cost)
		if err != nil {
			return apperrors.ValidationError("cost must be a decimal amount").WithField("cost", req.Cost)
		}
	}

	session, err := s.app.IncrementUsage(c.Request().Context(), sessionID, cost)
	if err != nil {
		var insufficient *domain.InsufficientBalanceError
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			return apperrors.NotFoundError("session not found").WithField("session_id", sessionID)
		case errors.Is(err, domain.ErrInvalidCost):
			return apperrors.ValidationError("cost must be positive").WithField("cost", req.Cost)
		case errors.As(err, &insufficient):
			return apperrors.InsufficientBalanceError("insufficient balance for usage increment").
				WithField("session_id", sessionID).
				WithField("requested", insufficient.Requested.StringFixed(domain.AmountDecimals)).
				WithField("available", insufficient.Available.StringFixed(domain.AmountDecimals)).
				WithField("shortfall", insufficient.Shortfall().StringFixed(domain.AmountDecimals))
		default:
			return apperrors.InternalError("failed to increment usage", err).WithField("session_id", sessionID)
		}
	}

	if err := c.JSON(200, newSessionView(session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// settlementView is the JSON shape returned when a session closes.
type settlementView struct {
	SessionID          string  `json:"sessionId"`
	ChannelSessionID   string  `json:"channelSessionId"`
	UsageCount         uint64  `json:"usageCount"`
	TotalCost          string  `json:"totalCost"`
	DurationSeconds    float64 `json:"durationSeconds"`
	ParticipantAmount  string  `json:"participantAmount"`
	CounterpartyAmount string  `json:"counterpartyAmount"`
}

func (s *Server) handleEndSession(c echo.Context) error {
	sessionID := c.Param("id")

	summary, err := s.app.EndSession(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return apperrors.NotFoundError("session not found").WithField("session_id", sessionID)
		}
		return apperrors.InternalError("failed to end session", err).WithField("session_id", sessionID)
	}

	view := settlementView{
		SessionID:          summary.SessionID,
		ChannelSessionID:   summary.ChannelSessionID,
		UsageCount:         summary.UsageCount,
		TotalCost:          summary.TotalCost.StringFixed(domain.AmountDecimals),
		DurationSeconds:    summary.Duration.Seconds(),
		ParticipantAmount:  summary.ParticipantAmount.StringFixed(domain.AmountDecimals),
		CounterpartyAmount: summary.CounterpartyAmount.StringFixed(domain.AmountDecimals),
	}

	if err := c.JSON(200, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSession(c echo.Context) error {
	sessionID := c.Param("id")

	session, err := s.app.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return apperrors.NotFoundError("session not found").WithField("session_id", sessionID)
		}
		return apperrors.InternalError("failed to load session", err).WithField("session_id", sessionID)
	}

	if err := c.JSON(200, newSessionView(session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions := s.app.ListSessions()

	views := make([]sessionView, len(sessions))
	for i, session := range sessions {
		views[i] = newSessionView(session)
	}

	if err := c.JSON(200, map[string]any{"sessions": views, "count": len(views)}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// mapTransportError classifies channel network failures for the HTTP layer.
func mapTransportError(message string, err error) error {
	switch {
	case errors.Is(err, domain.ErrTransportTimeout):
		return apperrors.TimeoutError(message, err)
	case errors.Is(err, domain.ErrAuthFailed),
		errors.Is(err, domain.ErrConnectionFailed),
		errors.Is(err, domain.ErrMissingSessionID),
		errors.Is(err, domain.ErrTransportRejected):
		return apperrors.ExternalError(message, err)
	default:
		return apperrors.InternalError(message, err)
	}
}
