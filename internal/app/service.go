package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/scikido/meter/internal/allocation"
	"github.com/scikido/meter/internal/domain"
	"github.com/scikido/meter/internal/metrics"
	"github.com/scikido/meter/internal/signing"
)

const (
	protocolVersion = "NitroRPC/0.4"
	applicationName = "meter"

	participantWeight = 50
	quorumWeight      = 100
)

// Settings are the config-derived session parameters.
type Settings struct {
	Asset             string
	InitialAllocation decimal.Decimal
	DefaultUsageCost  decimal.Decimal
}

// Service orchestrates all session use cases.
type Service struct {
	store        domain.SessionStore
	dialer       domain.ChannelDialer
	signer       *signing.Coordinator
	participant  domain.Wallet
	counterparty domain.Wallet
	settings     Settings
	clock        clockwork.Clock
	startGroup   singleflight.Group
}

func NewService(store domain.SessionStore, dialer domain.ChannelDialer, signer *signing.Coordinator,
	participant, counterparty domain.Wallet, settings Settings, clock clockwork.Clock) *Service {
	return &Service{
		store:        store,
		dialer:       dialer,
		signer:       signer,
		participant:  participant,
		counterparty: counterparty,
		settings:     settings,
		clock:        clock,
	}
}

// StartSession opens a new metered session for the participant wallet.
// An empty address defaults to the configured participant. The operation is
// all-or-nothing: on any failure the dialed connection is closed and nothing
// is registered. Concurrent starts for the same address are collapsed via
// singleflight, so exactly one session wins.
func (s *Service) StartSession(ctx context.Context, participantAddress string) (*domain.Session, error) {
	addr := participantAddress
	if addr == "" {
		addr = s.participant.Address.Hex()
	}
	if !strings.EqualFold(addr, s.participant.Address.Hex()) {
		return nil, domain.ErrUnknownParticipant
	}

	result, err, _ := s.startGroup.Do(strings.ToLower(addr), func() (any, error) {
		if existing, err := s.store.GetByParticipant(addr); err == nil {
			metrics.SessionsStartedTotal.WithLabelValues("duplicate").Inc()
			return nil, &domain.DuplicateSessionError{Participant: addr, ExistingSessionID: existing.ID}
		}

		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			metrics.SessionsStartedTotal.WithLabelValues("transport_error").Inc()
			return nil, err
		}

		session, err := s.openSession(ctx, conn)
		if err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				slog.ErrorContext(ctx, "Failed to close connection after start failure", "error", closeErr)
			}
			return nil, err
		}

		metrics.SessionsStartedTotal.WithLabelValues("success").Inc()
		metrics.ActiveSessions.Set(float64(s.store.Len()))
		slog.InfoContext(ctx, "Session started",
			"session_id", session.ID,
			"channel_session_id", session.ChannelSessionID,
			"participant", session.ParticipantAddress,
			"allocation", session.InitialAllocation.StringFixed(domain.AmountDecimals))

		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Session), nil
}

func (s *Service) openSession(ctx context.Context, conn domain.ChannelConn) (*domain.Session, error) {
	participantKey, err := conn.Authenticate(ctx, s.participant)
	if err != nil {
		metrics.SessionsStartedTotal.WithLabelValues("auth_error").Inc()
		return nil, err
	}
	counterpartyKey, err := conn.Authenticate(ctx, s.counterparty)
	if err != nil {
		metrics.SessionsStartedTotal.WithLabelValues("auth_error").Inc()
		return nil, err
	}

	def := domain.AppDefinition{
		Protocol:     protocolVersion,
		Participants: []string{s.participant.Address.Hex(), s.counterparty.Address.Hex()},
		Weights:      []int64{participantWeight, participantWeight},
		Quorum:       quorumWeight,
		Challenge:    0,
		Nonce:        uint64(s.clock.Now().UnixMilli()),
		Application:  applicationName,
	}

	allocations := []domain.Allocation{
		{Participant: s.participant.Address.Hex(), Asset: s.settings.Asset, Amount: s.settings.InitialAllocation},
		{Participant: s.counterparty.Address.Hex(), Asset: s.settings.Asset, Amount: decimal.Zero},
	}

	channelID, err := conn.OpenSession(ctx, def, allocations, s.signer.SignerFor(participantKey))
	if err != nil {
		metrics.SessionsStartedTotal.WithLabelValues("transport_error").Inc()
		return nil, err
	}

	session := &domain.Session{
		ID:                  uuid.NewString(),
		ChannelSessionID:    channelID,
		ParticipantAddress:  s.participant.Address.Hex(),
		CounterpartyAddress: s.counterparty.Address.Hex(),
		ParticipantKey:      participantKey,
		CounterpartyKey:     counterpartyKey,
		Conn:                conn,
		Asset:               s.settings.Asset,
		InitialAllocation:   s.settings.InitialAllocation,
		TotalCost:           decimal.Zero,
		StartTime:           s.clock.Now(),
	}

	if err := s.store.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

// IncrementUsage meters one use against the session's allocation. A zero
// cost falls back to the configured default. The balance check and the
// increment happen atomically in the registry; the network restatement that
// follows is best-effort, local accounting stays authoritative.
func (s *Service) IncrementUsage(ctx context.Context, sessionID string, cost decimal.Decimal) (*domain.Session, error) {
	if cost.IsZero() {
		cost = s.settings.DefaultUsageCost
	}
	if !cost.IsPositive() {
		return nil, domain.ErrInvalidCost
	}

	session, err := s.store.IncrementUsage(sessionID, cost)
	if err != nil {
		var insufficient *domain.InsufficientBalanceError
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			metrics.UsageIncrementsTotal.WithLabelValues("not_found").Inc()
		case errors.As(err, &insufficient):
			metrics.UsageIncrementsTotal.WithLabelValues("insufficient_balance").Inc()
			metrics.BalanceRejectionsTotal.Inc()
			slog.InfoContext(ctx, "Usage increment rejected",
				"session_id", sessionID,
				"requested", insufficient.Requested.StringFixed(domain.AmountDecimals),
				"available", insufficient.Available.StringFixed(domain.AmountDecimals))
		default:
			metrics.UsageIncrementsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.UsageIncrementsTotal.WithLabelValues("applied").Inc()

	split := allocation.SettlementSplit(session.InitialAllocation, session.TotalCost)
	err = session.Conn.UpdateSessionState(ctx, session.ChannelSessionID,
		s.sessionAllocations(session, split), s.signer.SignerFor(session.ParticipantKey))
	if err != nil {
		// The next successful update restates the full split, so nothing
		// is lost by continuing.
		slog.WarnContext(ctx, "State update failed, continuing with local accounting",
			"session_id", session.ID, "error", err)
	}

	slog.DebugContext(ctx, "Usage incremented",
		"session_id", session.ID,
		"usage_count", session.UsageCount,
		"total_cost", session.TotalCost.StringFixed(domain.AmountDecimals))

	return session, nil
}

// EndSession settles and removes a session. The session leaves the registry
// before the split is computed, under the same lock increments take, so no
// usage can be accepted after the settled totals are fixed. The close message
// carries both participants' signatures over the final split. Cleanup is
// unconditional: the connection is released whether or not the network
// acknowledged the close.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*domain.SettlementSummary, error) {
	session, err := s.store.Remove(sessionID)
	if err != nil {
		return nil, err
	}

	split := allocation.SettlementSplit(session.InitialAllocation, session.TotalCost)
	closeErr := session.Conn.CloseSession(ctx, session.ChannelSessionID,
		s.sessionAllocations(session, split),
		s.signer.QuorumSignerFor(session.ParticipantKey, session.CounterpartyKey))

	if err := session.Conn.Close(); err != nil {
		slog.ErrorContext(ctx, "Failed to close channel connection", "session_id", session.ID, "error", err)
	}
	metrics.ActiveSessions.Set(float64(s.store.Len()))

	duration := s.clock.Now().Sub(session.StartTime)
	metrics.SessionDuration.Observe(duration.Seconds())

	if closeErr != nil {
		metrics.SessionsClosedTotal.WithLabelValues("transport_error").Inc()
		slog.WarnContext(ctx, "Close message failed, session settled locally",
			"session_id", session.ID, "error", closeErr)
	} else {
		metrics.SessionsClosedTotal.WithLabelValues("success").Inc()
	}

	summary := &domain.SettlementSummary{
		SessionID:          session.ID,
		ChannelSessionID:   session.ChannelSessionID,
		UsageCount:         session.UsageCount,
		TotalCost:          session.TotalCost,
		Duration:           duration,
		ParticipantAmount:  split.Participant,
		CounterpartyAmount: split.Counterparty,
	}

	slog.InfoContext(ctx, "Session ended",
		"session_id", session.ID,
		"usage_count", summary.UsageCount,
		"total_cost", summary.TotalCost.StringFixed(domain.AmountDecimals),
		"duration", duration)

	return summary, nil
}

// GetSession returns a snapshot of one session.
func (s *Service) GetSession(sessionID string) (*domain.Session, error) {
	return s.store.Get(sessionID)
}

// ListSessions returns snapshots of all active sessions.
func (s *Service) ListSessions() []*domain.Session {
	return s.store.List()
}

func (s *Service) sessionAllocations(session *domain.Session, split allocation.Split) []domain.Allocation {
	return []domain.Allocation{
		{Participant: session.ParticipantAddress, Asset: session.Asset, Amount: split.Participant},
		{Participant: session.CounterpartyAddress, Asset: session.Asset, Amount: split.Counterparty},
	}
}
